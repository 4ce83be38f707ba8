package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"breeditor/api/internal/auth"
	"breeditor/api/internal/config"
	"breeditor/api/internal/metrics"
	"breeditor/api/internal/rbac"
	"breeditor/api/internal/rules"
	"breeditor/api/internal/search"
	"breeditor/api/internal/session"
	"breeditor/api/internal/snapshot"
	"breeditor/api/internal/store"
	"breeditor/api/internal/upload"
	"breeditor/api/internal/util"
)

// Session is the caller behind a request. The zero value is an anonymous
// caller.
type Session struct {
	Token       string
	JTI         string
	UserID      string
	Name        string
	Email       string
	ActiveProof string
	ExpiresAt   time.Time
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}

func (s Session) Role() rbac.Role {
	return rbac.RoleFor(s.Authenticated())
}

func (s Session) author() snapshot.Author {
	return snapshot.Author{Name: s.Name, Email: s.Email}
}

type ruleStore interface {
	LoadAll(context.Context) ([]rules.Record, error)
	FindByID(context.Context, string) (rules.Record, error)
	Upsert(context.Context, string, rules.Edit, store.Guard, store.Commit) (store.UpsertResult, error)
	Create(context.Context, rules.Record, store.Commit) ([]rules.Record, error)
	Remove(context.Context, string, store.Commit) ([]rules.Record, error)
	Replace(context.Context, []rules.Record, store.Commit) ([]rules.Record, error)
}

type snapshotLedger interface {
	Snapshot(string, snapshot.Author, []rules.Record) (snapshot.Info, error)
	Get(string) ([]byte, error)
	History(string, int) ([]snapshot.CommitInfo, error)
	Revision(string, string) ([]byte, error)
}

type ruleIndex interface {
	Search(search.Query) search.Response
	Reindex([]rules.Record)
}

type loginProvider interface {
	Enabled() bool
	AuthCodeURL(string) string
	Exchange(context.Context, string) (auth.GoogleUser, error)
}

type Service struct {
	cfg       config.Config
	rules     ruleStore
	ledger    snapshotLedger
	proofs    store.ProofLog
	documents upload.Store
	sessions  session.Store
	index     ruleIndex
	google    loginProvider
	validate  *validator.Validate
	newRuleID func() string
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Rules     ruleStore
	Ledger    snapshotLedger
	Proofs    store.ProofLog
	Documents upload.Store
	Sessions  session.Store
	Index     ruleIndex
	Google    loginProvider
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		rules:     deps.Rules,
		ledger:    deps.Ledger,
		proofs:    deps.Proofs,
		documents: deps.Documents,
		sessions:  deps.Sessions,
		index:     deps.Index,
		google:    deps.Google,
		validate:  validator.New(),
		newRuleID: util.NewRuleID,
	}
}

// Bootstrap loads the collection once so a broken rules file is reported at
// startup, and seeds the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	records, err := s.rules.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.index.Reindex(records)
	log.Printf("loaded %d rules", len(records))
	return nil
}

// Reload refreshes derived state after the rules file changed on disk.
func (s *Service) Reload(ctx context.Context) {
	records, err := s.rules.LoadAll(ctx)
	if err != nil {
		log.Printf("reload rules: %v", err)
		return
	}
	s.index.Reindex(records)
	log.Printf("reloaded %d rules after external change", len(records))
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	if err := s.proofs.Ping(ctx); err != nil {
		return fmt.Errorf("proof log: %w", err)
	}
	return nil
}

// --- sessions ---

func (s *Service) GoogleEnabled() bool {
	return s.google != nil && s.google.Enabled()
}

func (s *Service) GoogleAuthURL(state string) (string, error) {
	if !s.GoogleEnabled() {
		return "", auth.ErrOAuthDisabled
	}
	return s.google.AuthCodeURL(state), nil
}

func (s *Service) CompleteGoogleLogin(ctx context.Context, code string) (Session, error) {
	if !s.GoogleEnabled() {
		return Session{}, auth.ErrOAuthDisabled
	}
	user, err := s.google.Exchange(ctx, code)
	if err != nil {
		return Session{}, err
	}
	return s.Login(ctx, user)
}

// DevLogin signs a user in without Google. It only works when enabled in
// the configuration.
func (s *Service) DevLogin(ctx context.Context, name, email string) (Session, error) {
	if !s.cfg.DevLogin {
		return Session{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}
	return s.Login(ctx, auth.GoogleUser{ID: "dev-" + strings.ToLower(email), Name: name, Email: email})
}

// Login issues a cookie token for user and stores the session it points at.
func (s *Service) Login(ctx context.Context, user auth.GoogleUser) (Session, error) {
	ttl := s.sessionTTL()
	jti := util.NewID("jti")
	claims := auth.NewClaims(user.ID, user.Name, user.Email, jti, ttl)
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), claims)
	if err != nil {
		return Session{}, err
	}

	record := session.Session{
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.sessions.Save(ctx, jti, record, ttl); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	log.Printf("user %s signed in", user.Email)

	return Session{
		Token:     token,
		JTI:       jti,
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SessionFromToken is the authentication predicate: the token must verify
// and its session record must still exist.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	record, err := s.sessions.Lookup(ctx, claims.ID)
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:       token,
		JTI:         claims.ID,
		UserID:      record.UserID,
		Name:        record.Name,
		Email:       record.Email,
		ActiveProof: record.ActiveProof,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.JTI == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, sess.JTI)
}

func (s *Service) sessionTTL() time.Duration {
	if s.cfg.SessionTTL > 0 {
		return s.cfg.SessionTTL
	}
	return 24 * time.Hour
}

// --- rules ---

func (s *Service) ListRules(ctx context.Context, category string) ([]rules.Projection, error) {
	records, err := s.rules.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return rules.ProjectAll(rules.FilterByCategory(records, category)), nil
}

func (s *Service) RawRules(ctx context.Context, category string) ([]rules.Record, error) {
	records, err := s.rules.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return rules.FilterByCategory(records, category), nil
}

func (s *Service) Categories(ctx context.Context) ([]string, error) {
	records, err := s.rules.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return rules.Categories(records), nil
}

func (s *Service) GetRule(ctx context.Context, id string) (rules.Record, error) {
	return s.rules.FindByID(ctx, id)
}

func (s *Service) SearchRules(q search.Query) search.Response {
	return s.index.Search(q)
}

// MutationResult describes a completed write and the snapshot taken after it.
type MutationResult struct {
	Rule     *rules.Projection `json:"rule,omitempty"`
	Created  bool              `json:"created"`
	Count    int               `json:"count"`
	Snapshot *snapshot.Info    `json:"snapshot,omitempty"`
}

// UpdateRule merges edit into rule id, creating the rule when the id is
// unknown. A threshold attached to the rule (or carried by the edit) is
// checked against the proposed value under the store lock.
func (s *Service) UpdateRule(ctx context.Context, actor Session, proofID, id string, edit rules.Edit) (MutationResult, error) {
	var taken *snapshot.Info
	result, err := s.rules.Upsert(ctx, id, edit, validationGuard(edit), s.afterWrite(actor, proofID, &taken))
	if err != nil {
		var rejected *rules.RejectedError
		if errors.As(err, &rejected) {
			metrics.ValidationRejected()
		}
		return MutationResult{}, err
	}

	op := metrics.OpUpdate
	if result.Created {
		op = metrics.OpCreate
	}
	metrics.RuleMutation(op)
	log.Printf("rule %s saved by %s (%s)", id, actorName(actor), op)

	projection := rules.Project(result.Record)
	return MutationResult{
		Rule:     &projection,
		Created:  result.Created,
		Count:    len(result.Rules),
		Snapshot: taken,
	}, nil
}

// CreateRule adds a rule under a freshly generated id. An id that is
// already taken is refused rather than merged into.
func (s *Service) CreateRule(ctx context.Context, actor Session, proofID string, edit rules.Edit) (MutationResult, error) {
	id := s.newRuleID()
	if err := validationGuard(edit)(nil); err != nil {
		metrics.ValidationRejected()
		return MutationResult{}, err
	}
	record, err := rules.NewRecord(id, edit)
	if err != nil {
		return MutationResult{}, fmt.Errorf("build rule %s: %w", id, err)
	}

	var taken *snapshot.Info
	written, err := s.rules.Create(ctx, record, s.afterWrite(actor, proofID, &taken))
	if err != nil {
		return MutationResult{}, err
	}
	metrics.RuleMutation(metrics.OpCreate)
	log.Printf("rule %s saved by %s (%s)", id, actorName(actor), metrics.OpCreate)

	projection := rules.Project(record)
	return MutationResult{
		Rule:     &projection,
		Created:  true,
		Count:    len(written),
		Snapshot: taken,
	}, nil
}

// ThresholdInput is the threshold-authoring form.
type ThresholdInput struct {
	Parameter   string   `json:"parameter" validate:"required"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Operator    string   `json:"operator" validate:"required,oneof=>= <="`
	Target      *float64 `json:"target" validate:"required"`
	Value       *string  `json:"value"`
}

// CreateThresholdRule creates a rule that carries a threshold validation.
// The initial value defaults to the target itself.
func (s *Service) CreateThresholdRule(ctx context.Context, actor Session, proofID string, input ThresholdInput) (MutationResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return MutationResult{}, validationDetails(err)
	}
	category := strings.TrimSpace(input.Category)
	if s.cfg.TitleCaseCategories {
		category = rules.TitleCase(category)
	}
	value := formatTarget(*input.Target)
	if input.Value != nil {
		value = *input.Value
	}
	edit := rules.Edit{
		NewValue:       rules.String(value),
		NewParameter:   rules.String(strings.TrimSpace(input.Parameter)),
		NewCategory:    rules.String(category),
		NewDescription: rules.String(input.Description),
		Validation: &rules.Validation{
			Kind:     rules.KindThreshold,
			Operator: input.Operator,
			Target:   *input.Target,
		},
	}
	return s.CreateRule(ctx, actor, proofID, edit)
}

func (s *Service) DeleteRule(ctx context.Context, actor Session, proofID, id string) (MutationResult, error) {
	var taken *snapshot.Info
	remaining, err := s.rules.Remove(ctx, id, s.afterWrite(actor, proofID, &taken))
	if err != nil {
		return MutationResult{}, err
	}
	metrics.RuleMutation(metrics.OpDelete)
	log.Printf("rule %s deleted by %s", id, actorName(actor))
	return MutationResult{
		Count:    len(remaining),
		Snapshot: taken,
	}, nil
}

// ImportRules replaces the collection with the rule list found in doc,
// whichever export envelope wraps it.
func (s *Service) ImportRules(ctx context.Context, actor Session, proofID string, doc []byte) (MutationResult, error) {
	records, err := rules.ExtractList(doc)
	if err != nil {
		return MutationResult{}, payloadError(err.Error())
	}
	var taken *snapshot.Info
	written, err := s.rules.Replace(ctx, records, s.afterWrite(actor, proofID, &taken))
	if err != nil {
		return MutationResult{}, err
	}
	metrics.RuleMutation(metrics.OpImport)
	log.Printf("%d rules imported by %s", len(written), actorName(actor))
	return MutationResult{
		Count:    len(written),
		Snapshot: taken,
	}, nil
}

// afterWrite is the commit hook of a mutation. The store runs it while it
// still holds its lock, so the search index and the proof's latest snapshot
// are updated in the same order as the writes. The snapshot taken is left
// in *taken, which stays nil when there is no proof or the snapshot failed.
// Snapshot failures are logged; the write itself already succeeded.
func (s *Service) afterWrite(actor Session, proofID string, taken **snapshot.Info) store.Commit {
	if proofID == "" {
		proofID = actor.ActiveProof
	}
	return func(records []rules.Record) {
		s.index.Reindex(records)

		if proofID == "" {
			metrics.Snapshot(metrics.SnapshotSkipped)
			log.Printf("snapshot skipped: no active proof")
			return
		}
		info, err := s.ledger.Snapshot(proofID, actor.author(), records)
		if err != nil {
			metrics.Snapshot(metrics.SnapshotFailed)
			log.Printf("snapshot %s failed: %v", proofID, err)
			return
		}
		metrics.Snapshot(metrics.SnapshotWritten)
		*taken = &info
	}
}

func validationGuard(edit rules.Edit) store.Guard {
	return func(current rules.Record) error {
		if edit.NewValue == nil && edit.Validation == nil {
			return nil
		}
		v := edit.Validation
		if v == nil && current != nil {
			v = current.Validation()
		}
		if v == nil {
			return nil
		}

		value := ""
		if edit.NewValue != nil {
			value = *edit.NewValue
		} else if current != nil {
			value = rules.ResolveValue(current)
		}
		parameter := ""
		if edit.NewParameter != nil {
			parameter = *edit.NewParameter
		} else if current != nil {
			parameter = current.Parameter()
		}
		return rules.Validate(value, parameter, v)
	}
}

// --- proofs ---

// SnapshotInput is the body of an explicit snapshot request. filename is
// accepted as an alias of proofId.
type SnapshotInput struct {
	ProofID  string         `json:"proofId"`
	Filename string         `json:"filename"`
	Rules    []rules.Record `json:"rules"`
}

func (s *Service) SaveSnapshot(ctx context.Context, actor Session, input SnapshotInput) (snapshot.Info, error) {
	proofID := strings.TrimSpace(input.ProofID)
	if proofID == "" {
		proofID = strings.TrimSpace(input.Filename)
	}
	if proofID == "" {
		return snapshot.Info{}, payloadError("proofId is required")
	}
	if input.Rules == nil {
		return snapshot.Info{}, payloadError("rules are required")
	}
	info, err := s.ledger.Snapshot(proofID, actor.author(), input.Rules)
	if err != nil {
		metrics.Snapshot(metrics.SnapshotFailed)
		return snapshot.Info{}, err
	}
	metrics.Snapshot(metrics.SnapshotWritten)
	return info, nil
}

// UploadProof stores a proof document, records it in the upload log and
// makes it the caller's active proof.
func (s *Service) UploadProof(ctx context.Context, actor Session, originalName, contentType string, r io.Reader, size int64) (store.ProofUpload, error) {
	originalName = strings.TrimSpace(originalName)
	if originalName == "" {
		return store.ProofUpload{}, payloadError("proofFile is required")
	}
	stored, err := s.documents.Put(ctx, originalName, contentType, r, size)
	if err != nil {
		return store.ProofUpload{}, fmt.Errorf("store proof document: %w", err)
	}
	entry, err := s.proofs.Append(ctx, store.ProofUpload{
		Filename:     stored.Filename,
		OriginalName: stored.OriginalName,
		UploadedBy:   actor.Name,
		Email:        actor.Email,
		SizeBytes:    stored.Size,
	})
	if err != nil {
		return store.ProofUpload{}, err
	}
	if actor.JTI != "" {
		if err := s.sessions.SetActiveProof(ctx, actor.JTI, entry.Filename); err != nil {
			log.Printf("set active proof for %s: %v", actor.Email, err)
		}
	}
	log.Printf("proof %s uploaded by %s", entry.Filename, actor.Email)
	return entry, nil
}

// ProofUploads lists the upload log oldest first.
func (s *Service) ProofUploads(ctx context.Context, limit int) ([]store.ProofUpload, error) {
	entries, err := s.proofs.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *Service) SnapshotHistory(proofID string, limit int) ([]snapshot.CommitInfo, error) {
	return s.ledger.History(proofID, limit)
}

func (s *Service) SnapshotRevision(proofID, hash string) ([]byte, error) {
	return s.ledger.Revision(proofID, hash)
}

// Download is a file served from /download/proof.
type Download struct {
	Name        string
	ContentType string
	Body        io.ReadCloser
}

// OpenDownload resolves name to a snapshot file first and then to an
// uploaded proof document.
func (s *Service) OpenDownload(ctx context.Context, name string) (Download, error) {
	if strings.HasSuffix(name, ".json") {
		data, err := s.ledger.Get(name)
		if err == nil {
			return Download{
				Name:        name,
				ContentType: "application/json",
				Body:        io.NopCloser(bytes.NewReader(data)),
			}, nil
		}
		if !errors.Is(err, snapshot.ErrNotFound) && !errors.Is(err, snapshot.ErrInvalidProof) {
			return Download{}, err
		}
	}
	body, err := s.documents.Open(ctx, name)
	if err != nil {
		return Download{}, err
	}
	return Download{Name: name, ContentType: contentTypeFor(name), Body: body}, nil
}

func actorName(actor Session) string {
	if actor.Email != "" {
		return actor.Email
	}
	return "anonymous"
}

func formatTarget(target float64) string {
	return strconv.FormatFloat(target, 'f', -1, 64)
}
