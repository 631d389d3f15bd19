// Package httprouter exposes the job service over HTTP.
package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"mediafetch/internal/config"
	"mediafetch/internal/consts"
	"mediafetch/internal/errs"
	"mediafetch/internal/infrastructure/delivery/http/middleware"
	"mediafetch/internal/infrastructure/delivery/http/request"
	"mediafetch/internal/infrastructure/delivery/http/response"
	"mediafetch/internal/observability"
	"mediafetch/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Router is a ServeMux with a global middleware chain.
type Router struct {
	*http.ServeMux

	log         *slog.Logger
	cfg         *config.Config
	metrics     *observability.Metrics
	globalChain []func(http.Handler) http.Handler
	svc         service.Job
	handler     http.Handler
}

// New builds the router with every route and middleware registered.
func New(log *slog.Logger, cfg *config.Config, svc service.Job, metrics *observability.Metrics) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		metrics:  metrics,
		svc:      svc,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	var h http.Handler = r.ServeMux
	for _, mw := range slices.Backward(r.globalChain) {
		h = mw(h)
	}

	r.handler = h

	return r
}

// Use appends middleware to the global chain. It must be called before New returns.
func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	r.globalChain = append(r.globalChain, middleware...)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer(r.log),
		middleware.RequestID,
		middleware.Logger(r.log),
		middleware.Metrics(r.metrics),
	)
}

func (r *Router) SetRoutes() {
	r.HandleFunc("GET /v1/readyz", r.Ready)
	r.Handle("GET /metrics", observability.Handler())

	r.HandleFunc("POST /v1/downloads", r.Enqueue)
	r.HandleFunc("GET /v1/downloads", r.GetJobs)
	r.HandleFunc("GET /v1/downloads/{id}", r.GetJob)
	r.HandleFunc("DELETE /v1/downloads/{id}", r.CancelJob)
	r.HandleFunc("GET /v1/presets", r.GetPresets)
}

func (r *Router) Ready(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespReady, nil)
}

func (r *Router) Enqueue(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "Enqueue"))
	ctx := req.Context()

	var in request.Download

	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, errors.Join(errs.ErrInvalidRequestBody, err))

		return
	}

	ref, err := in.Validate()
	if err != nil {
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	folder, err := in.ResolveFolder(r.cfg.Dir.Downloads)
	if err != nil {
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	job, err := r.svc.Enqueue(ctx, service.EnqueueInput{
		Ref:          ref,
		Preset:       in.Preset,
		Folder:       folder,
		SkipExisting: in.SkipExisting,
	})

	switch {
	case errors.Is(err, errs.ErrJobAlreadyExists):
		log.DebugContext(ctx, consts.RespJobAlreadyExists, slog.String("job_id", job.ID))
		response.Conflict(w, consts.RespJobAlreadyExists, job, err)

		return
	case errors.Is(err, errs.ErrInvalidPreset), errors.Is(err, errs.ErrInvalidFolder):
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	case errors.Is(err, errs.ErrServiceClosed):
		response.ServiceUnavailable(w, consts.RespServiceClosed, err)

		return
	case err != nil:
		log.ErrorContext(ctx, consts.RespJobEnqueueFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobEnqueueFail, err)

		return
	}

	log.InfoContext(ctx, consts.RespJobEnqueued, slog.Any("ref", ref), slog.String("job_id", job.ID))

	response.Accepted(w, consts.RespJobEnqueued, job)
}

func (r *Router) GetJob(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "GetJob"))

	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.HTTP.HandlerTimeout)
	defer cancel()

	id := req.PathValue("id")
	if id == "" {
		log.ErrorContext(ctx, consts.RespQueryParamMissing)
		response.BadRequest(w, consts.RespQueryParamMissing, nil)

		return
	}

	job, err := r.svc.GetByID(ctx, id)
	if errors.Is(err, errs.ErrJobNotFound) {
		log.DebugContext(ctx, consts.RespJobNotFound, slog.String("job_id", id))
		response.NotFound(w, consts.RespJobNotFound, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespGetJobFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespGetJobFail, err)

		return
	}

	response.OK(w, consts.RespJobRetrieved, job)
}

func (r *Router) GetJobs(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "GetJobs"))

	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.HTTP.HandlerTimeout)
	defer cancel()

	jobs, err := r.svc.GetAll(ctx)
	if errors.Is(err, errs.ErrNoJobs) {
		log.DebugContext(ctx, consts.RespNoJobs)
		response.NoContent(w)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespGetJobsFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespGetJobsFail, err)

		return
	}

	response.OK(w, consts.RespJobsRetrieved, jobs)
}

func (r *Router) CancelJob(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "CancelJob"))

	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.HTTP.HandlerTimeout)
	defer cancel()

	id := req.PathValue("id")

	err := r.svc.Cancel(ctx, id)

	switch {
	case errors.Is(err, errs.ErrJobNotFound):
		response.NotFound(w, consts.RespJobNotFound, err)
	case errors.Is(err, errs.ErrJobFinished):
		response.Conflict(w, consts.RespJobCancelFail, nil, err)
	case err != nil:
		log.ErrorContext(ctx, consts.RespJobCancelFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobCancelFail, err)
	default:
		log.InfoContext(ctx, consts.RespJobCancelled, slog.String("job_id", id))
		response.OK(w, consts.RespJobCancelled, nil)
	}
}

func (r *Router) GetPresets(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespPresetsRetrieved, r.svc.Presets())
}
