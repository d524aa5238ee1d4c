package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/charon-estate/charond/internal/config"
	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
	"github.com/charon-estate/charond/internal/unseal"
	"github.com/charon-estate/charond/internal/workflows"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "charond.yaml", "config file path")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(configPath, log); err != nil {
		log.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tc, err := client.Dial(client.Options{HostPort: cfg.TemporalHostPort})
	if err != nil {
		return err
	}
	defer tc.Close()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	s := &server{tc: tc, db: db, cfg: cfg, log: log}

	r := chi.NewRouter()
	r.Post("/wills", s.handleCreateWill)
	r.Get("/wills", s.handleListWills)
	r.Get("/wills/{willId}", s.handleGetWill)
	r.Delete("/wills/{willId}", s.handleDeleteWill)
	r.Put("/guardians/{guardian}/email", s.handleSetGuardianEmail)
	r.Post("/executions", s.handleStartExecution)
	r.Get("/executions/{executionId}", s.handleGetExecution)
	r.Get("/workflows/{workflowId}/outcome", s.handleQueryOutcome)
	r.Get("/workflows/{workflowId}/audit", s.handleQueryAudit)
	registerUIRoutes(r, tc, db)

	log.Info("api listening", "addr", cfg.APIListenAddr)
	return http.ListenAndServe(cfg.APIListenAddr, r)
}

type server struct {
	tc  client.Client
	db  *store.Store
	cfg config.Config
	log *slog.Logger
}

type createWillReq struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	TargetURL   string `json:"targetUrl"`
	Username    string `json:"username"`
	Instruction string `json:"instruction"`
	TOTPSecret  string `json:"totpSecret"`

	// Either a plaintext secret, sealed server-side to the configured
	// recipient, or a pre-sealed ciphertext with its integrity hash.
	Secret          string `json:"secret"`
	EncryptedSecret string `json:"encryptedSecret"`
	SecretHash      string `json:"secretHash"`
}

func (s *server) handleCreateWill(w http.ResponseWriter, r *http.Request) {
	var req createWillReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Subject == "" || req.TargetURL == "" || req.Instruction == "" {
		http.Error(w, "subject, targetUrl and instruction are required", http.StatusBadRequest)
		return
	}

	will := model.DigitalWill{
		ID:              req.ID,
		Subject:         strings.ToLower(req.Subject),
		TargetURL:       req.TargetURL,
		Username:        req.Username,
		EncryptedSecret: req.EncryptedSecret,
		SecretHash:      req.SecretHash,
		Instruction:     req.Instruction,
		TOTPSecret:      req.TOTPSecret,
		CreatedAt:       time.Now().UTC(),
	}
	if will.ID == "" {
		will.ID = uuid.NewString()
	}

	switch {
	case req.Secret != "" && req.EncryptedSecret != "":
		http.Error(w, "provide secret or encryptedSecret, not both", http.StatusBadRequest)
		return
	case req.Secret != "":
		if s.cfg.UnsealRecipient == "" {
			http.Error(w, "server has no sealing recipient configured; submit encryptedSecret", http.StatusBadRequest)
			return
		}
		ct, hash, err := unseal.SealFor(s.cfg.UnsealRecipient, req.Secret)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		will.EncryptedSecret, will.SecretHash = ct, hash
	case req.EncryptedSecret == "" || req.SecretHash == "":
		http.Error(w, "secret or encryptedSecret+secretHash is required", http.StatusBadRequest)
		return
	}

	if err := s.db.SaveWill(r.Context(), will); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("will stored", "will_id", will.ID, "subject", will.Subject)
	writeJSON(w, redact(will))
}

func (s *server) handleListWills(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		http.Error(w, "subject query parameter is required", http.StatusBadRequest)
		return
	}
	wills, err := s.db.ListWills(r.Context(), subject)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]model.DigitalWill, len(wills))
	for i, will := range wills {
		out[i] = redact(will)
	}
	writeJSON(w, out)
}

func (s *server) handleGetWill(w http.ResponseWriter, r *http.Request) {
	will, err := s.db.GetWill(r.Context(), chi.URLParam(r, "willId"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "will not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, redact(will))
}

func (s *server) handleDeleteWill(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteWill(r.Context(), chi.URLParam(r, "willId"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "will not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleSetGuardianEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		http.Error(w, "invalid body: {\"email\":\"...\"}", http.StatusBadRequest)
		return
	}
	if err := s.db.SetGuardianEmail(r.Context(), chi.URLParam(r, "guardian"), req.Email); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

type startExecutionReq struct {
	WillID string `json:"willId"`
}

type startExecutionResp struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId"`
	RunID       string `json:"runId"`
}

// handleStartExecution is the manual intake path: it runs one stored will
// through the pipeline without waiting for a ledger transition. The same
// workflow id scheme as the watcher applies, so a will that already
// executed is rejected rather than re-run.
func (s *server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WillID == "" {
		http.Error(w, "invalid body: {\"willId\":\"...\"}", http.StatusBadRequest)
		return
	}

	will, err := s.db.GetWill(r.Context(), req.WillID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "will not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	opts := client.StartWorkflowOptions{
		ID:                                       "execute-will-" + will.ID,
		TaskQueue:                                s.cfg.TaskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	in := workflows.ExecuteWillInput{
		ExecutionID: uuid.NewString(),
		Will:        will,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	we, err := s.tc.ExecuteWorkflow(ctx, opts, workflows.ExecuteWill, in)
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		http.Error(w, "execution already started for this will", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info("execution started", "will_id", will.ID, "execution_id", in.ExecutionID)
	writeJSON(w, startExecutionResp{
		ExecutionID: in.ExecutionID,
		WorkflowID:  we.GetID(),
		RunID:       we.GetRunID(),
	})
}

func (s *server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.GetExecution(r.Context(), chi.URLParam(r, "executionId"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

func (s *server) handleQueryOutcome(w http.ResponseWriter, r *http.Request) {
	var out model.ExecutionOutcome
	if !s.queryWorkflow(w, r, "outcome", &out) {
		return
	}
	writeJSON(w, out)
}

func (s *server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	var events []model.AuditEvent
	if !s.queryWorkflow(w, r, "audit_log", &events) {
		return
	}
	writeJSON(w, events)
}

func (s *server) queryWorkflow(w http.ResponseWriter, r *http.Request, name string, into any) bool {
	workflowID := chi.URLParam(r, "workflowId")
	runID := r.URL.Query().Get("runId")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	qr, err := s.tc.QueryWorkflow(ctx, workflowID, runID, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return false
	}
	if err := qr.Get(into); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return false
	}
	return true
}

// redact strips the sealed material from API responses. The ciphertext
// only ever travels to the worker.
func redact(will model.DigitalWill) model.DigitalWill {
	will.EncryptedSecret = ""
	will.TOTPSecret = ""
	return will
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
