// Package orchestrator is the sole entry point from the HTTP layer into
// the execution core (SPEC_FULL.md §4.6). One Execute call is one code
// submission: validate, resolve the owning session, load and save Python
// state, mount and harvest files, run the code, and clean up.
//
// Grounded on original_source/src/services/orchestrator.py's
// ExecutionOrchestrator, whose twelve-step pipeline (_validate_request,
// _get_or_create_session, _load_state, _mount_files, _execute_code,
// _extract_outputs, _save_state, _update_mounted_files_content,
// _handle_generated_files, _build_response, _cleanup) this package
// reproduces as twelve private step methods in file order.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/usnavy13/codebox/internal/apperr"
	"github.com/usnavy13/codebox/internal/config"
	"github.com/usnavy13/codebox/internal/domain"
	"github.com/usnavy13/codebox/internal/events"
	"github.com/usnavy13/codebox/internal/langregistry"
	"github.com/usnavy13/codebox/internal/pool"
	"github.com/usnavy13/codebox/internal/pystate"
	"github.com/usnavy13/codebox/internal/registry"
	"github.com/usnavy13/codebox/internal/replexec"
	"github.com/usnavy13/codebox/internal/sandbox"
	"github.com/usnavy13/codebox/internal/store"
)

// Request is one code submission, the Go shape of the exec endpoint body
// in SPEC_FULL.md §6.
type Request struct {
	Code      string
	Lang      string
	SessionID string
	EntityID  string
	UserID    string
	Files     []domain.FileRef
	Args      any
}

// Response is the LibreChat-compatible exec result (SPEC_FULL.md §6).
type Response struct {
	SessionID string
	Files     []domain.GeneratedFileRef
	Stdout    string
	Stderr    string
	HasState  bool
	StateSize *int
	StateHash string
}

// Orchestrator wires every collaborator the pipeline needs: the sandbox
// pool, the session/file registries, the hot/cold state stores, and the
// event bus.
type Orchestrator struct {
	cfg      *config.Config
	pool     *pool.Pool
	mgr      *sandbox.Manager
	sessions *registry.SessionRegistry
	files    *registry.FileRegistry
	hot      *store.HotStore
	cold     *store.ColdStore
	bus      *events.Bus
	log      zerolog.Logger

	cleanupCh chan cleanupJob
}

// New builds an Orchestrator around its already-initialized collaborators.
func New(
	cfg *config.Config,
	p *pool.Pool,
	mgr *sandbox.Manager,
	sessions *registry.SessionRegistry,
	files *registry.FileRegistry,
	hot *store.HotStore,
	cold *store.ColdStore,
	bus *events.Bus,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		pool:      p,
		mgr:       mgr,
		sessions:  sessions,
		files:     files,
		hot:       hot,
		cold:      cold,
		bus:       bus,
		log:       log.With().Str("component", "orchestrator").Logger(),
		cleanupCh: make(chan cleanupJob, 64),
	}
}

// cleanupJob is one pending sandbox-destruction request, run by a bounded
// pool of background workers instead of a bare goroutine per execution
// (SPEC_FULL.md §9's redesign note).
type cleanupJob struct {
	desc *domain.SandboxDescriptor
}

// StartCleanupWorkers launches n background goroutines draining the
// cleanup channel. Call once at process startup; the workers exit when ctx
// is cancelled.
func (o *Orchestrator) StartCleanupWorkers(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go o.cleanupWorker(ctx)
	}
}

func (o *Orchestrator) cleanupWorker(ctx context.Context) {
	for {
		select {
		case job, ok := <-o.cleanupCh:
			if !ok {
				return
			}
			if err := o.pool.Destroy(job.desc); err != nil {
				o.log.Warn().Str("sandbox_id", job.desc.ID).Err(err).Msg("background sandbox cleanup failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// execContext carries state through the pipeline, the Go analogue of
// ExecutionContext in original_source/src/services/orchestrator.py.
type execContext struct {
	request   Request
	requestID string
	sessionID string

	desc *domain.SandboxDescriptor
	repl *replexec.Process
	lang langregistry.Config

	mountedFiles    []mountedFile
	mountedFileRefs []fileRefKey

	initialState string
	newState     string
	newStateHash string
	stateErrors  []string

	exitCode int
	stdout   string
	stderr   string
	status   domain.ExecutionStatus

	generatedFiles []domain.GeneratedFileRef

	startedAt time.Time
}

type mountedFile struct {
	fileID    string
	filename  string
	sessionID string
	isAgent   bool
}

type fileRefKey struct {
	sessionID string
	fileID    string
}

// Execute runs the full twelve-step pipeline for one code submission.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Response, error) {
	ec := &execContext{request: req, requestID: uuid.New().String(), startedAt: time.Now().UTC()}

	if err := o.step1Validate(ec); err != nil {
		return Response{}, err
	}
	if err := o.step2ResolveSession(ctx, ec); err != nil {
		return Response{}, err
	}
	if err := o.step3LoadState(ctx, ec); err != nil {
		o.log.Warn().Err(err).Str("session_id", ec.sessionID).Msg("failed to load prior state")
	}
	if err := o.step4MountFiles(ctx, ec); err != nil {
		o.log.Warn().Err(err).Str("session_id", ec.sessionID).Msg("failed to resolve mounted files")
	}
	if err := o.step5AcquireSandbox(ctx, ec); err != nil {
		return Response{}, err
	}
	if err := o.step6Execute(ctx, ec); err != nil {
		o.submitCleanup(ec)
		return Response{}, err
	}
	o.step7ExtractOutputs(ec)
	if err := o.step8SaveState(ctx, ec); err != nil {
		o.log.Warn().Err(err).Str("session_id", ec.sessionID).Msg("failed to save state")
	}
	o.step9UpdateMountedFileContent(ctx, ec)
	o.step10HarvestGeneratedFiles(ctx, ec)
	resp := o.step11BuildResponse(ec)
	o.step12Cleanup(ctx, ec)

	return resp, nil
}

// step1Validate checks the language is supported and the code is
// non-empty after trimming whitespace.
func (o *Orchestrator) step1Validate(ec *execContext) error {
	if !langregistry.IsSupported(ec.request.Lang) {
		return apperr.New(apperr.TypeValidation, fmt.Sprintf("unsupported programming language: %s", ec.request.Lang)).
			WithDetails(apperr.Detail{Field: "lang", Message: fmt.Sprintf("language %q is not supported", ec.request.Lang), Code: "unsupported_language"})
	}
	if strings.TrimSpace(ec.request.Code) == "" {
		return apperr.New(apperr.TypeValidation, "code cannot be empty").
			WithDetails(apperr.Detail{Field: "code", Message: "code field is required and cannot be empty", Code: "empty_code"})
	}
	ec.lang = langregistry.MustGet(ec.request.Lang)
	return nil
}

// step2ResolveSession implements the four-priority session lookup:
// explicit session ID, then file-reference session, then newest active
// session for the entity, then a brand-new session.
func (o *Orchestrator) step2ResolveSession(ctx context.Context, ec *execContext) error {
	req := ec.request

	if req.SessionID != "" {
		if sess, ok, err := o.sessions.GetSession(ctx, req.SessionID); err == nil && ok && sess.Active() {
			ec.sessionID = sess.ID
			return nil
		}
	}

	for _, f := range req.Files {
		if f.SessionID == "" {
			continue
		}
		if sess, ok, err := o.sessions.GetSession(ctx, f.SessionID); err == nil && ok && sess.Active() {
			ec.sessionID = sess.ID
			return nil
		}
	}

	if req.EntityID != "" {
		sessions, err := o.sessions.ListActiveByEntity(ctx, req.EntityID, 1)
		if err == nil && len(sessions) > 0 {
			ec.sessionID = sessions[0].ID
			return nil
		}
	}

	metadata := map[string]string{}
	if req.EntityID != "" {
		metadata["entity_id"] = req.EntityID
	}
	if req.UserID != "" {
		metadata["user_id"] = req.UserID
	}
	sess, err := o.sessions.CreateSession(ctx, metadata)
	if err != nil {
		return apperr.Wrap(apperr.TypeInternalServer, "failed to create session", err)
	}
	ec.sessionID = sess.ID
	return nil
}

// step3LoadState loads prior Python namespace state, Python only.
// Priority: a recorded restore_state file hash, then a recent client
// upload, then hot storage, then cold storage.
func (o *Orchestrator) step3LoadState(ctx context.Context, ec *execContext) error {
	if !o.cfg.StatePersistenceEnabled || ec.request.Lang != "py" {
		return nil
	}

	if hash := firstRestoreStateHash(o, ctx, ec); hash != "" {
		if state, ok, err := o.hot.GetStateByHash(ctx, hash); err == nil && ok {
			ec.initialState = state
			return nil
		}
		if o.cfg.ColdArchivalEnabled && o.cold != nil {
			if state, ok, err := o.cold.RestoreStateByHash(ctx, hash); err == nil && ok {
				ec.initialState = state
				return nil
			}
		}
	}

	if recent, err := o.hot.HasRecentUpload(ctx, ec.sessionID); err == nil && recent {
		if state, ok, err := o.hot.GetState(ctx, ec.sessionID); err == nil && ok {
			ec.initialState = state
			_ = o.hot.ClearUploadMarker(ctx, ec.sessionID)
			return nil
		}
	}

	if state, ok, err := o.hot.GetState(ctx, ec.sessionID); err == nil && ok {
		ec.initialState = state
		return nil
	}

	if o.cfg.ColdArchivalEnabled && o.cold != nil {
		if state, ok, err := o.cold.RestoreState(ctx, ec.sessionID); err == nil && ok {
			ec.initialState = state
		}
	}
	return nil
}

// firstRestoreStateHash returns the state_hash of the first file reference
// flagged restore_state=true whose metadata actually carries a hash,
// Python only.
func firstRestoreStateHash(o *Orchestrator, ctx context.Context, ec *execContext) string {
	if ec.request.Lang != "py" {
		return ""
	}
	for _, f := range ec.request.Files {
		if !f.RestoreState {
			continue
		}
		info, ok, err := o.files.GetFileInfo(ctx, f.SessionID, f.ID)
		if err != nil || !ok || info.StateHash == "" {
			continue
		}
		return info.StateHash
	}
	return ""
}

// step4MountFiles resolves the set of files this execution should mount:
// the explicit request.Files list if present, otherwise every file
// already stored in the session (auto-mount, for cross-message
// persistence). Only metadata is resolved here; the bytes are fetched and
// written into the sandbox data directory at the tail of step5, once a
// sandbox actually exists to write into.
func (o *Orchestrator) step4MountFiles(ctx context.Context, ec *execContext) error {
	if len(ec.request.Files) > 0 {
		return o.mountExplicitFiles(ctx, ec)
	}
	if ec.sessionID != "" {
		return o.autoMountSessionFiles(ctx, ec)
	}
	return nil
}

func (o *Orchestrator) mountExplicitFiles(ctx context.Context, ec *execContext) error {
	seen := map[fileRefKey]bool{}
	for _, ref := range ec.request.Files {
		info, ok, err := o.files.GetFileInfo(ctx, ref.SessionID, ref.ID)
		if err != nil {
			o.log.Warn().Err(err).Str("file_id", ref.ID).Msg("failed to look up file")
			continue
		}
		if !ok && ref.Name != "" {
			info, ok, _ = o.files.FindByName(ctx, ref.SessionID, ref.Name)
		}
		if !ok {
			o.log.Warn().Str("file_id", ref.ID).Str("name", ref.Name).Msg("file not found")
			continue
		}

		key := fileRefKey{sessionID: ref.SessionID, fileID: info.FileID}
		if seen[key] {
			continue
		}
		seen[key] = true

		ec.mountedFiles = append(ec.mountedFiles, mountedFile{
			fileID: info.FileID, filename: info.Filename, sessionID: ref.SessionID, isAgent: info.IsAgentFile,
		})
		ec.mountedFileRefs = append(ec.mountedFileRefs, key)
	}
	return nil
}

func (o *Orchestrator) autoMountSessionFiles(ctx context.Context, ec *execContext) error {
	files, err := o.files.ListFiles(ctx, ec.sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: auto-mount session files: %w", err)
	}
	for _, info := range files {
		key := fileRefKey{sessionID: ec.sessionID, fileID: info.FileID}
		ec.mountedFiles = append(ec.mountedFiles, mountedFile{
			fileID: info.FileID, filename: info.Filename, sessionID: ec.sessionID, isAgent: info.IsAgentFile,
		})
		ec.mountedFileRefs = append(ec.mountedFileRefs, key)
	}
	return nil
}

// step5AcquireSandbox acquires a sandbox from the pool and writes every
// mounted file's bytes into it.
func (o *Orchestrator) step5AcquireSandbox(ctx context.Context, ec *execContext) error {
	desc, repl, err := o.pool.Acquire(ctx, ec.request.Lang, ec.sessionID)
	if err != nil {
		return apperr.Wrap(apperr.TypeServiceUnavailable, "failed to acquire sandbox", err)
	}
	ec.desc = desc
	ec.repl = repl

	for _, mf := range ec.mountedFiles {
		info, ok, err := o.files.GetFileInfo(ctx, mf.sessionID, mf.fileID)
		if err != nil || !ok {
			continue
		}
		content, ok, err := o.files.GetFileBytes(ctx, info)
		if err != nil || !ok {
			// Unreachable file becomes a zero-byte placeholder so the
			// user's code can at least open the name.
			content = nil
		}
		if err := o.mgr.PutFile(ec.desc, content, mf.filename, ec.request.Lang); err != nil {
			o.log.Warn().Err(err).Str("filename", mf.filename).Msg("failed to write mounted file into sandbox")
		}
	}
	return nil
}

// step6Execute runs the code, through the REPL with state persistence for
// Python, or as a one-shot isolated command otherwise.
func (o *Orchestrator) step6Execute(ctx context.Context, ec *execContext) error {
	timeout := time.Duration(float64(o.cfg.MaxExecutionTimeSeconds)*ec.lang.TimeoutMultiplier) * time.Second
	args := normalizeArgs(ec.request.Args)
	useState := o.cfg.StatePersistenceEnabled && ec.request.Lang == "py"

	if ec.repl != nil {
		res, err := ec.repl.ExecuteWithState(ctx, ec.request.Code, timeout, "/mnt/data", ec.initialState, useState, args)
		if err != nil {
			return apperr.Wrap(apperr.TypeExecutionFailed, "repl execution failed", err)
		}
		ec.exitCode = res.ExitCode
		ec.stdout = res.Stdout
		ec.stderr = res.Stderr
		ec.newState = res.State
		ec.stateErrors = res.StateErrors
		return nil
	}

	if err := o.writeSourceIfNeeded(ec); err != nil {
		return err
	}
	command := ec.lang.RenderCommand(ec.lang.SourceFilename())
	if len(args) > 0 {
		command = command + " " + shellQuoteJoin(args)
	}

	var stdin string
	if ec.lang.UsesStdin {
		stdin = ec.request.Code
	}

	result, err := o.mgr.RunOneShot(ctx, ec.desc, command, stdin, timeout)
	if err != nil {
		return apperr.Wrap(apperr.TypeExecutionFailed, "one-shot execution failed", err)
	}
	ec.exitCode = result.ExitCode
	ec.stdout = result.Stdout
	ec.stderr = result.Stderr
	return nil
}

// writeSourceIfNeeded writes the code into the sandbox as its source
// filename for languages whose command template references {file}
// instead of reading from stdin.
func (o *Orchestrator) writeSourceIfNeeded(ec *execContext) error {
	if ec.lang.UsesStdin {
		return nil
	}
	return o.mgr.PutFile(ec.desc, []byte(ec.request.Code), ec.lang.SourceFilename(), ec.request.Lang)
}

// step7ExtractOutputs derives status from the exit code, synthesizes a
// stderr message for a silent failure, and ensures stdout ends in a
// newline for client compatibility.
func (o *Orchestrator) step7ExtractOutputs(ec *execContext) {
	switch ec.exitCode {
	case 0:
		ec.status = domain.ExecutionCompleted
	case 124:
		ec.status = domain.ExecutionTimeout
	default:
		ec.status = domain.ExecutionFailed
	}

	if ec.status != domain.ExecutionCompleted && ec.stderr == "" {
		ec.stderr = fmt.Sprintf("execution failed with exit code %d", ec.exitCode)
	}
	if ec.stdout != "" && !strings.HasSuffix(ec.stdout, "\n") {
		ec.stdout += "\n"
	}
}

// step8SaveState saves the captured namespace state to hot storage,
// Python only, and only when the execution succeeded (or the
// capture-on-error behavior were enabled — the core always captures only
// on success, there being no capture-on-error knob in SPEC_FULL.md's
// config surface).
func (o *Orchestrator) step8SaveState(ctx context.Context, ec *execContext) error {
	if !o.cfg.StatePersistenceEnabled || ec.request.Lang != "py" {
		return nil
	}
	if ec.status != domain.ExecutionCompleted {
		return nil
	}
	if ec.newState == "" {
		return nil
	}

	hash, err := o.hot.SaveState(ctx, ec.sessionID, ec.newState, o.cfg.StateHotTTL())
	if err != nil {
		return fmt.Errorf("orchestrator: save state: %w", err)
	}
	ec.newStateHash = hash

	for _, ref := range ec.mountedFileRefs {
		if err := o.files.UpdateFileStateHash(ctx, ref.sessionID, ref.fileID, hash, ec.requestID); err != nil {
			o.log.Warn().Err(err).Str("file_id", ref.fileID).Msg("failed to update file state hash")
		}
	}
	return nil
}

// step9UpdateMountedFileContent re-reads every mounted file belonging to
// this execution's own session from the sandbox and, if its bytes are
// still present, persists the edit. Files from other sessions and
// agent-uploaded files are read-only and never rewritten.
func (o *Orchestrator) step9UpdateMountedFileContent(ctx context.Context, ec *execContext) {
	for _, mf := range ec.mountedFiles {
		if mf.sessionID != ec.sessionID || mf.isAgent {
			continue
		}
		content, ok := o.mgr.GetFile(ec.desc, mf.filename)
		if !ok {
			continue
		}
		if _, err := o.files.UpdateFileContent(ctx, mf.sessionID, mf.fileID, content, ec.newStateHash, ec.requestID); err != nil {
			o.log.Warn().Err(err).Str("filename", mf.filename).Msg("failed to update mounted file content")
		}
	}
}

// step10HarvestGeneratedFiles stores every regular file left in the
// sandbox's data directory that is not the source file itself, up to the
// configured count and size caps, linking each to the post-execution
// state hash.
func (o *Orchestrator) step10HarvestGeneratedFiles(ctx context.Context, ec *execContext) {
	names, err := o.mgr.ListGeneratedFiles(ec.desc, ec.lang.SourceFilename(), o.cfg.MaxOutputFileCount, o.cfg.MaxOutputFileBytes)
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to list generated files")
		return
	}

	for _, name := range names {
		content, ok := o.mgr.GetFile(ec.desc, name)
		if !ok {
			continue
		}
		fileID, err := o.files.StoreExecutionOutputFile(ctx, ec.sessionID, name, content, ec.requestID, ec.newStateHash)
		if err != nil {
			o.log.Warn().Err(err).Str("filename", name).Msg("failed to store generated file")
			continue
		}
		ec.generatedFiles = append(ec.generatedFiles, domain.GeneratedFileRef{ID: fileID, Name: name, SessionID: ec.sessionID})
	}
}

// step11BuildResponse assembles the client-facing result.
func (o *Orchestrator) step11BuildResponse(ec *execContext) Response {
	resp := Response{
		SessionID: ec.sessionID,
		Files:     ec.generatedFiles,
		Stdout:    ec.stdout,
		Stderr:    ec.stderr,
	}

	if ec.request.Lang == "py" && ec.newState != "" {
		resp.HasState = true
		resp.StateHash = ec.newStateHash
		if env, err := pystate.DecodeBase64(ec.newState); err == nil && env != nil {
			size := len(env.Payload)
			resp.StateSize = &size
		}
	}
	return resp
}

// step12Cleanup queues background sandbox destruction and publishes the
// ExecutionCompleted event.
func (o *Orchestrator) step12Cleanup(ctx context.Context, ec *execContext) {
	o.submitCleanup(ec)

	if o.bus != nil {
		o.bus.Publish(events.Event{
			Kind:            events.KindExecutionCompleted,
			At:              time.Now().UTC(),
			SessionID:       ec.sessionID,
			Language:        ec.request.Lang,
			ExecutionID:     ec.requestID,
			Success:         ec.status == domain.ExecutionCompleted,
			ExecutionTimeMs: time.Since(ec.startedAt).Milliseconds(),
		})
	}
}

func (o *Orchestrator) submitCleanup(ec *execContext) {
	if ec.desc == nil {
		return
	}
	select {
	case o.cleanupCh <- cleanupJob{desc: ec.desc}:
	default:
		// Cleanup queue is saturated: destroy synchronously rather than
		// leak the sandbox directory.
		if err := o.pool.Destroy(ec.desc); err != nil {
			o.log.Warn().Err(err).Str("sandbox_id", ec.desc.ID).Msg("inline sandbox cleanup failed")
		}
	}
}

// normalizeArgs coerces the dynamically-typed args field into a []string,
// or nil if there is nothing to pass:
//   - nil                      -> nil
//   - ""  / whitespace-only    -> nil
//   - non-empty string         -> one-element slice
//   - []any                    -> string-converted, non-empty elements only
//   - anything else            -> one-element slice of its string form
func normalizeArgs(args any) []string {
	switch v := args.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	case []string:
		return filterNonEmpty(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			s := fmt.Sprintf("%v", item)
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

func filterNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// shellQuoteJoin single-quotes each argument and joins with spaces, safe
// for interpolation into the one-shot command string built by
// langregistry.Config.RenderCommand.
func shellQuoteJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
