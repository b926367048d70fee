package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	bullmq "github.com/ozandndar/reddis-bullmq"
	"github.com/ozandndar/reddis-bullmq/job"
	"github.com/ozandndar/reddis-bullmq/queue"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// QueueSummary describes one queue in the queue list.
type QueueSummary struct {
	Name   string              `json:"name"`
	Counts map[job.State]int64 `json:"counts"`
}

// ListJobsResponse is a page of jobs in one state.
type ListJobsResponse struct {
	Queue  string     `json:"queue"`
	State  job.State  `json:"state"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	Jobs   []*job.Job `json:"jobs"`
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		a.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) listQueues(w http.ResponseWriter, r *http.Request) {
	names := a.eng.Queues()
	out := make([]QueueSummary, 0, len(names))
	for _, name := range names {
		q, ok := a.eng.Lookup(name)
		if !ok {
			continue
		}
		counts, err := q.Counts(r.Context())
		if err != nil {
			a.storeError(w, err)
			return
		}
		out = append(out, QueueSummary{Name: name, Counts: counts})
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) queueCounts(w http.ResponseWriter, r *http.Request) {
	q, ok := a.queue(w, r)
	if !ok {
		return
	}
	counts, err := q.Counts(r.Context())
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, counts)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q, ok := a.queue(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	state := job.StateWaiting
	if s := query.Get("state"); s != "" {
		parsed, err := job.ParseState(s)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		state = parsed
	}
	limit, err := intParam(query.Get("limit"), defaultLimit)
	if err != nil || limit < 1 {
		a.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxLimit)
	offset, err := intParam(query.Get("offset"), 0)
	if err != nil || offset < 0 {
		a.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	jobs, err := q.List(r.Context(), state, job.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.storeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	a.writeJSON(w, http.StatusOK, ListJobsResponse{
		Queue:  q.Name(),
		State:  state,
		Limit:  limit,
		Offset: offset,
		Jobs:   jobs,
	})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	q, ok := a.queue(w, r)
	if !ok {
		return
	}
	jid, err := job.ParseID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j, err := q.Get(r.Context(), jid)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

// queue resolves the {queue} URL parameter, writing a 404 when the engine
// does not know it.
func (a *API) queue(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	name := chi.URLParam(r, "queue")
	q, ok := a.eng.Lookup(name)
	if !ok {
		a.writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %q", bullmq.ErrQueueNotFound, name))
		return nil, false
	}
	return q, true
}

// storeError maps bullmq sentinel errors to HTTP statuses.
func (a *API) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bullmq.ErrJobNotFound), errors.Is(err, bullmq.ErrQueueNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bullmq.ErrStoreUnavailable):
		a.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error("api: store error", slog.String("error", err.Error()))
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
