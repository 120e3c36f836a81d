package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/faizol/loyalty-migration/internal/config"
	"github.com/faizol/loyalty-migration/internal/importer"
	"github.com/faizol/loyalty-migration/internal/queue"
	"github.com/faizol/loyalty-migration/internal/repository"
	"github.com/faizol/loyalty-migration/internal/runstate"
	queue_publisher "github.com/faizol/loyalty-migration/internal/service"
)

// ImportHandler bundles dependencies for the migration endpoints.
type ImportHandler struct {
	Cfg     config.Config
	Members *repository.MemberRepo
	Ledger  *repository.LedgerRepo
	Runs    *runstate.Store
}

func NewImportHandler(cfg config.Config, members *repository.MemberRepo, ledger *repository.LedgerRepo, runs *runstate.Store) *ImportHandler {
	return &ImportHandler{Cfg: cfg, Members: members, Ledger: ledger, Runs: runs}
}

// runOptions reads the run configuration from the multipart form.
func (h *ImportHandler) runOptions(c echo.Context) (importer.Options, error) {
	mode := importer.PasswordMode(strings.ToLower(strings.TrimSpace(c.FormValue("password_mode"))))
	if mode == "" {
		mode = importer.PasswordModeDefault
	}
	if mode != importer.PasswordModeDefault && mode != importer.PasswordModeFile {
		return importer.Options{}, echo.NewHTTPError(http.StatusBadRequest, "password_mode must be default or file")
	}
	defaultPassword := c.FormValue("default_password")
	if mode == importer.PasswordModeDefault && defaultPassword == "" {
		return importer.Options{}, echo.NewHTTPError(http.StatusBadRequest, "default_password required in default password mode")
	}
	return importer.Options{
		ChunkSize:       h.Cfg.ImportChunkSize,
		WriteSubBatch:   h.Cfg.ImportWriteSubBatch,
		PasswordMode:    mode,
		DefaultPassword: defaultPassword,
		BcryptCost:      h.Cfg.BcryptCost,
	}, nil
}

// readUpload parses the uploaded workbook into raw rows.
func readUpload(c echo.Context) ([]importer.ImportRow, string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", &importer.FatalError{Reason: "file is required"}
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fh.Filename, &importer.FatalError{Reason: "could not read uploaded file"}
	}
	defer src.Close()
	rows, err := importer.ReadRows(src, fh.Filename)
	if err != nil {
		return nil, fh.Filename, err
	}
	return rows, fh.Filename, nil
}

// Import handles POST /v1/migrations/import: it runs the pipeline
// while streaming progress events to the client as JSON lines over a
// flushed response. The connection stays open for the whole run, so a
// heartbeat ping is interleaved to keep proxies from cutting it.
func (h *ImportHandler) Import(c echo.Context) error {
	opts, err := h.runOptions(c)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	stream := newStreamSink(res)

	rows, filename, err := readUpload(c)
	if err != nil {
		// Per the progress contract a fatal parse failure is one
		// terminal error event on the already-open stream.
		stream.Error(err.Error())
		return nil
	}

	runID := uuid.NewString()
	recorder := runstate.NewRecorder(h.Runs, runID)
	sink := importer.MultiSink{stream, recorder}
	sink.Status("run " + runID + " accepted")

	ctx := c.Request().Context()
	stopHeartbeat := importer.StartHeartbeat(ctx, stream, h.Cfg.ImportHeartbeat)
	defer stopHeartbeat()

	startedAt := time.Now().UTC()
	pipeline := importer.New(h.Members, h.Ledger, opts)
	summary, runErr := pipeline.Run(ctx, rows, sink)
	stopHeartbeat()

	h.publishCompleted(runID, filename, string(opts.PasswordMode), summary, runErr, startedAt)
	return nil
}

// ImportSync handles POST /v1/migrations/import/sync: same pipeline,
// plain request/response. Progress is still recorded in the run-state
// store so the run can be observed via GET /v1/migrations/runs/:id.
func (h *ImportHandler) ImportSync(c echo.Context) error {
	opts, err := h.runOptions(c)
	if err != nil {
		return err
	}
	rows, filename, err := readUpload(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": err.Error()})
	}

	runID := uuid.NewString()
	recorder := runstate.NewRecorder(h.Runs, runID)

	startedAt := time.Now().UTC()
	pipeline := importer.New(h.Members, h.Ledger, opts)
	summary, runErr := pipeline.Run(c.Request().Context(), rows, importer.MultiSink{recorder})
	h.publishCompleted(runID, filename, string(opts.PasswordMode), summary, runErr, startedAt)
	if runErr != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": runErr.Error(), "run_id": runID})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"run_id":  runID,
		"summary": echo.Map{
			"total":   summary.Total,
			"success": summary.SuccessCount,
			"error":   summary.ErrorCount,
		},
		"results": summary.Results,
	})
}

// publishCompleted emits the broker event for a finished run. Broker
// failures are already logged by the publisher and ignored here.
func (h *ImportHandler) publishCompleted(runID, filename, mode string, summary importer.RunSummary, runErr error, startedAt time.Time) {
	status := runstate.StatusCompleted
	if runErr != nil {
		status = runstate.StatusFailed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = queue_publisher.PublishMigrationCompleted(ctx, queue.MigrationCompletedEvent{
		RunID:        runID,
		Status:       status,
		Total:        summary.Total,
		SuccessCount: summary.SuccessCount,
		ErrorCount:   summary.ErrorCount,
		PasswordMode: mode,
		FileName:     filename,
		StartedAt:    startedAt.Format(time.RFC3339),
		FinishedAt:   time.Now().UTC().Format(time.RFC3339),
	})
}

// ----- streaming sink -----

// streamSink writes one JSON object per line to the response and
// flushes after each event. The pipeline goroutine and the heartbeat
// both write here, hence the mutex. After the terminal complete/error
// event every further event (a late ping, typically) is dropped so
// consumers see exactly one terminal event.
type streamSink struct {
	mu     sync.Mutex
	res    *echo.Response
	enc    *json.Encoder
	closed bool
}

func newStreamSink(res *echo.Response) *streamSink {
	return &streamSink{res: res, enc: json.NewEncoder(res)}
}

func (s *streamSink) send(terminal bool, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if terminal {
		s.closed = true
	}
	if err := s.enc.Encode(payload); err != nil {
		s.closed = true
		return
	}
	s.res.Flush()
}

func (s *streamSink) Status(message string) {
	s.send(false, map[string]any{"type": "status", "message": message})
}

func (s *streamSink) Init(total int, message string) {
	s.send(false, map[string]any{"type": "init", "total": total, "message": message})
}

func (s *streamSink) Progress(current, total int, percent float64, successCount, errorCount int, message string) {
	s.send(false, map[string]any{
		"type": "progress", "current": current, "total": total,
		"percent": percent, "success": successCount, "error": errorCount,
		"message": message,
	})
}

func (s *streamSink) Ping(ts time.Time) {
	s.send(false, map[string]any{"type": "ping", "ts": ts.UTC().Format(time.RFC3339)})
}

func (s *streamSink) Complete(summary importer.RunSummary) {
	s.send(true, map[string]any{
		"type": "complete",
		"summary": map[string]any{
			"total":   summary.Total,
			"success": summary.SuccessCount,
			"error":   summary.ErrorCount,
		},
		"results": summary.Results,
	})
}

func (s *streamSink) Error(message string) {
	s.send(true, map[string]any{"type": "error", "message": message})
}
