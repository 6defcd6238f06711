// Package api is the thin echo binding between the HTTP transport and
// internal/orchestrator (SPEC_FULL.md §6/§10). It owns route registration,
// request parsing and response shaping only — every decision about code
// execution, session state or file storage lives in the orchestrator.
//
// Grounded on the teacher's internal/api/handler.go for route/middleware
// shape (auth middleware, echo.Group, websocket upgrade) and on
// original_source/tests/functional/test_files.go's functional contract for
// the endpoints themselves (POST /exec, POST /upload, GET /files/:session_id,
// GET /download/:session_id/:file_id).
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/usnavy13/codebox/internal/apperr"
	"github.com/usnavy13/codebox/internal/domain"
	"github.com/usnavy13/codebox/internal/orchestrator"
	"github.com/usnavy13/codebox/internal/registry"
	"github.com/usnavy13/codebox/internal/sandbox"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // CLI/SDK directly connecting
		}
		return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "https://localhost")
	},
}

// Handler wires the HTTP surface to the orchestrator and the registries it
// needs for read-only lookups the orchestrator itself doesn't expose
// (listing/downloading files outside of an execution).
type Handler struct {
	orch     *orchestrator.Orchestrator
	sessions *registry.SessionRegistry
	files    *registry.FileRegistry
	mgr      *sandbox.Manager
	apiKey   string
	log      zerolog.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, sessions *registry.SessionRegistry, files *registry.FileRegistry, mgr *sandbox.Manager, apiKey string, log zerolog.Logger) *Handler {
	return &Handler{
		orch:     orch,
		sessions: sessions,
		files:    files,
		mgr:      mgr,
		apiKey:   apiKey,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes mounts every endpoint the teacher's handler shape exposes,
// rebound to the code-execution domain.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("")
	if h.apiKey != "" {
		g.Use(h.authMiddleware)
	}

	g.POST("/exec", h.exec)
	g.POST("/upload", h.upload)
	g.GET("/files/:session_id", h.listFiles)
	g.GET("/download/:session_id/:file_id", h.download)
	g.GET("/interact/:session_id", h.interact)
}

func (h *Handler) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("x-api-key")
		if key == "" {
			key = c.QueryParam("api_key")
		}
		if key != h.apiKey {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
		}
		return next(c)
	}
}

// execRequest is the exec endpoint body, SPEC_FULL.md §6.
type execRequest struct {
	Code      string        `json:"code"`
	Lang      string        `json:"lang"`
	SessionID string        `json:"session_id"`
	EntityID  string        `json:"entity_id"`
	UserID    string        `json:"user_id"`
	Files     []execFileRef `json:"files"`
	Args      any           `json:"args"`
}

type execFileRef struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	Name         string `json:"name"`
	RestoreState bool   `json:"restore_state"`
}

type execFileOut struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
}

type execResponse struct {
	SessionID string        `json:"session_id"`
	Files     []execFileOut `json:"files"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	HasState  *bool         `json:"has_state,omitempty"`
	StateSize *int          `json:"state_size,omitempty"`
	StateHash string        `json:"state_hash,omitempty"`
}

func (h *Handler) exec(c echo.Context) error {
	var req execRequest
	if err := c.Bind(&req); err != nil {
		return writeAppErr(c, apperr.Wrap(apperr.TypeValidation, "invalid request body", err))
	}

	files := make([]domain.FileRef, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, domain.FileRef{ID: f.ID, SessionID: f.SessionID, Name: f.Name, RestoreState: f.RestoreState})
	}

	resp, err := h.orch.Execute(c.Request().Context(), orchestrator.Request{
		Code:      req.Code,
		Lang:      req.Lang,
		SessionID: req.SessionID,
		EntityID:  req.EntityID,
		UserID:    req.UserID,
		Files:     files,
		Args:      req.Args,
	})
	if err != nil {
		return writeAppErr(c, err)
	}

	out := execResponse{
		SessionID: resp.SessionID,
		Stdout:    resp.Stdout,
		Stderr:    resp.Stderr,
		StateSize: resp.StateSize,
		StateHash: resp.StateHash,
	}
	if resp.HasState {
		out.HasState = &resp.HasState
	}
	out.Files = make([]execFileOut, 0, len(resp.Files))
	for _, f := range resp.Files {
		out.Files = append(out.Files, execFileOut{ID: f.ID, Name: f.Name, SessionID: f.SessionID})
	}
	return c.JSON(http.StatusOK, out)
}

// uploadedFileInfo is one entry of the upload endpoint's "files" array.
type uploadedFileInfo struct {
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
}

type uploadResponse struct {
	Message   string             `json:"message"`
	SessionID string             `json:"session_id"`
	Files     []uploadedFileInfo `json:"files"`
}

// upload accepts LibreChat's "file" (singular) or "files" (plural/repeated)
// multipart field name, per original_source's functional contract.
func (h *Handler) upload(c echo.Context) error {
	entityID := c.FormValue("entity_id")
	sessionID := c.FormValue("session_id")

	form, err := c.MultipartForm()
	if err != nil {
		return writeAppErr(c, apperr.Wrap(apperr.TypeValidation, "multipart form required", err))
	}
	fileHeaders := form.File["files"]
	fileHeaders = append(fileHeaders, form.File["file"]...)
	if len(fileHeaders) == 0 {
		return writeAppErr(c, apperr.New(apperr.TypeValidation, "no files in request"))
	}

	if sessionID == "" {
		sess, err := h.sessions.CreateSession(c.Request().Context(), map[string]string{"entity_id": entityID})
		if err != nil {
			return writeAppErr(c, apperr.Wrap(apperr.TypeInternalServer, "creating session", err))
		}
		sessionID = sess.ID
	}

	out := make([]uploadedFileInfo, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		src, err := fh.Open()
		if err != nil {
			return writeAppErr(c, apperr.Wrap(apperr.TypeValidation, "opening uploaded file", err))
		}
		content, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return writeAppErr(c, apperr.Wrap(apperr.TypeValidation, "reading uploaded file", err))
		}

		contentType := fh.Header.Get("Content-Type")
		sf, err := h.files.StoreUpload(c.Request().Context(), sessionID, fh.Filename, contentType, content, entityID != "")
		if err != nil {
			return writeAppErr(c, apperr.Wrap(apperr.TypeInternalServer, "storing uploaded file", err))
		}
		out = append(out, uploadedFileInfo{FileID: sf.FileID, Filename: sf.Filename})
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Message:   "success",
		SessionID: sessionID,
		Files:     out,
	})
}

type fileListEntry struct {
	FileID      string `json:"fileId"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

func (h *Handler) listFiles(c echo.Context) error {
	sessionID := c.Param("session_id")
	files, err := h.files.ListFiles(c.Request().Context(), sessionID)
	if err != nil {
		return writeAppErr(c, apperr.Wrap(apperr.TypeInternalServer, "listing files", err))
	}
	out := make([]fileListEntry, 0, len(files))
	for _, f := range files {
		out = append(out, fileListEntry{FileID: f.FileID, Filename: f.Filename, Size: f.Size, ContentType: f.ContentType})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) download(c echo.Context) error {
	sessionID := c.Param("session_id")
	fileID := c.Param("file_id")

	sf, ok, err := h.files.GetFileInfo(c.Request().Context(), sessionID, fileID)
	if err != nil {
		return writeAppErr(c, apperr.Wrap(apperr.TypeInternalServer, "looking up file", err))
	}
	if !ok {
		return writeAppErr(c, apperr.New(apperr.TypeResourceNotFound, "file not found"))
	}
	content, ok, err := h.files.GetFileBytes(c.Request().Context(), sf)
	if err != nil {
		return writeAppErr(c, apperr.Wrap(apperr.TypeInternalServer, "reading file body", err))
	}
	if !ok {
		return writeAppErr(c, apperr.New(apperr.TypeResourceNotFound, "file body missing"))
	}

	contentType := sf.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.Blob(http.StatusOK, contentType, content)
}

// interactMessage is one turn a websocket client sends: a code block to run
// against the session's persisted state, reusing the same pipeline a plain
// POST /exec call would. State and mounted files keep working across turns
// because they are keyed by session_id exactly as in the HTTP case.
type interactMessage struct {
	Code string `json:"code"`
	Lang string `json:"lang"`
	Args any    `json:"args"`
}

// interact opens a websocket for a multi-turn session: each inbound JSON
// message runs one Execute round-trip and the response is written back as
// one JSON frame, carried over from the teacher's "interact" endpoint shape
// (echo.Group + gorilla/websocket.Upgrader) but driven through the
// orchestrator instead of a raw driver pipe, since the REPL here speaks a
// request/response protocol rather than an interactive shell stream.
func (h *Handler) interact(c echo.Context) error {
	sessionID := c.Param("session_id")
	lang := c.QueryParam("lang")
	if lang == "" {
		lang = "py"
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return nil
		}
		var msg interactMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			ws.WriteJSON(map[string]string{"error": "invalid message"})
			continue
		}
		if msg.Lang == "" {
			msg.Lang = lang
		}

		resp, err := h.orch.Execute(c.Request().Context(), orchestrator.Request{
			Code:      msg.Code,
			Lang:      msg.Lang,
			SessionID: sessionID,
			Args:      msg.Args,
		})
		if err != nil {
			ae, _ := apperr.As(err)
			if ae == nil {
				ae = apperr.Wrap(apperr.TypeInternalServer, "internal error", err)
			}
			ws.WriteJSON(map[string]string{"error": ae.Error()})
			continue
		}
		sessionID = resp.SessionID
		ws.WriteJSON(execResponse{
			SessionID: resp.SessionID,
			Stdout:    resp.Stdout,
			Stderr:    resp.Stderr,
			StateHash: resp.StateHash,
		})
	}
}

// writeAppErr maps an apperr.Error (or a plain error, treated as an
// internal fault) onto the HTTP status SPEC_FULL.md §7 assigns its type.
func writeAppErr(c echo.Context, err error) error {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Wrap(apperr.TypeInternalServer, "internal error", err)
	}
	return c.JSON(ae.StatusCode(), map[string]any{
		"error": ae.Error(),
		"type":  string(ae.Type),
	})
}
