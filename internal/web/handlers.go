package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"bizcal/internal/aggregate"
	"bizcal/internal/availability"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
	"bizcal/internal/provider"
)

const maxBodyBytes = 1 << 20

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadParam),
		errors.Is(err, aggregate.ErrValidation),
		errors.Is(err, availability.ErrInvalidRequest),
		errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "path", r.URL.Path)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadParam, err)
	}
	return nil
}

func (s *Server) writeEvents(w http.ResponseWriter, r *http.Request, res aggregate.Result, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: toEventDTOs(res.Events), Cached: res.Cached})
}

// handleDay serves GET /api/events/day?date=YYYY-MM-DD.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.EventsForDay(r.Context(), date)
	s.writeEvents(w, r, res, err)
}

// handleWeek serves GET /api/events/week?start=&end=. Both ends are
// inclusive.
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseDate("start", q.Get("start"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	end, err := parseDate("end", q.Get("end"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.EventsForWeek(r.Context(), start, end)
	s.writeEvents(w, r, res, err)
}

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := parseInt("year", q.Get("year"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	month, err := parseInt("month", q.Get("month"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.EventsForMonth(r.Context(), year, time.Month(month))
	s.writeEvents(w, r, res, err)
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.AllEvents(r.Context())
	s.writeEvents(w, r, res, err)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := req.toNewEvent(s.cfg.Timezone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := s.engine.CreateEvent(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	appLog.Info("event created", "provider", string(in.Provider), "uid", ev.UID)
	writeJSON(w, http.StatusCreated, toEventDTO(ev))
}

// handleDelete serves DELETE /api/events/{uid}?provider=&calendarUrl=. An
// occurrence uid deletes the whole series.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := model.EventRef{
		Provider:    model.ProviderKind(q.Get("provider")),
		CalendarURL: q.Get("calendarUrl"),
		UID:         mux.Vars(r)["uid"],
	}
	if err := s.engine.DeleteEvent(r.Context(), ref); err != nil {
		s.fail(w, r, err)
		return
	}
	appLog.Info("event deleted", "provider", string(ref.Provider), "uid", model.MasterUID(ref.UID))
	writeJSON(w, http.StatusOK, map[string]string{"deleted": model.MasterUID(ref.UID)})
}

// handleAvailability serves GET /api/availability?date=&duration=&buffer=.
// duration and buffer are minutes or ISO 8601 durations.
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDate("date", q.Get("date"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	duration, err := parseMinutes("duration", q.Get("duration"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var buffer time.Duration
	if v := q.Get("buffer"); v != "" {
		if buffer, err = parseMinutes("buffer", v); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	slots, err := s.engine.Availability(r.Context(), date, duration, buffer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Slots: toSlotDTOs(slots)})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	start, _, err := parseStamp("start", req.Start, s.cfg.Timezone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	end, _, err := parseStamp("end", req.End, s.cfg.Timezone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Buffer < 0 {
		s.fail(w, r, fmt.Errorf("%w: buffer must not be negative", errBadParam))
		return
	}

	res, err := s.engine.CheckOverlap(r.Context(), start.Wall(s.loc), end.Wall(s.loc), time.Duration(req.Buffer)*time.Minute, req.Exclude)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Conflicts: toEventDTOs(res.Conflicts), Warning: res.Warning})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Config(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(view))
}

// handlePutConfig replaces the stored preferences. A calendar missing from
// the body, or sent with busy=false, stops blocking time.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var body configDTO
	if err := decodeBody(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.engine.UpdateConfig(r.Context(), body.toCalendarConfig())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(view))
}
