package scheduling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/immigration-casework/internal/caller"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

const maxBodyBytes = 1 << 20

// Handler exposes the scheduling operations over HTTP. The caller is read from the
// request context, where the auth middleware stored it.
type Handler struct {
	service      *Service
	negotiator   *Negotiator
	availability *AvailabilityAggregator
	logger       *logging.Logger
}

// NewHandler creates a scheduling HTTP handler.
func NewHandler(service *Service, negotiator *Negotiator, availability *AvailabilityAggregator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, negotiator: negotiator, availability: availability, logger: logger}
}

// RegisterRoutes mounts scheduling endpoints. Expected to be mounted under /api/v1.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.createAppointment)
		r.Get("/", h.listAppointments)
		r.Route("/{appointmentID}", func(r chi.Router) {
			r.Get("/", h.getAppointment)
			r.Post("/cancel", h.cancelAppointment)
			r.Post("/confirm", h.confirmAppointment)
			r.Post("/complete", h.completeAppointment)
			r.Post("/recording-consent", h.recordingConsent)
			r.Post("/reschedule", h.proposeReschedule)
			r.Get("/proposals", h.listProposals)
			r.Get("/audit", h.auditTrail)
		})
	})
	r.Post("/reschedule-proposals/{proposalID}/choose", h.chooseOption)
	r.Post("/reschedule-proposals/{proposalID}/reject", h.rejectProposal)
	r.Get("/staff/{staffID}/availability", h.staffAvailability)
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	appt, err := h.service.CreateAppointment(r.Context(), req, callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := h.service.GetAppointmentHistory(r.Context(), r.URL.Query().Get("case_id"), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if appts == nil {
		appts = []Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointments": appts,
		"count":        len(appts),
	})
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	who := callerFrom(r)
	id := chi.URLParam(r, "appointmentID")
	appt, err := h.service.GetAppointment(r.Context(), id, who)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	proposals, err := h.service.ListProposals(r.Context(), id, who)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if proposals == nil {
		proposals = []RescheduleProposal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointment": appt,
		"proposals":   proposals,
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	appt, err := h.service.CancelAppointment(r.Context(), chi.URLParam(r, "appointmentID"), req.Reason, callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.ConfirmAppointment(r.Context(), chi.URLParam(r, "appointmentID"), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) completeAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.CompleteAppointment(r.Context(), chi.URLParam(r, "appointmentID"), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) recordingConsent(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.GiveRecordingConsent(r.Context(), chi.URLParam(r, "appointmentID"), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type proposeBody struct {
	Side            string      `json:"side"`
	Options         []time.Time `json:"options"`
	DurationMinutes int         `json:"duration_minutes"`
	Timezone        string      `json:"timezone"`
}

func (h *Handler) proposeReschedule(w http.ResponseWriter, r *http.Request) {
	var body proposeBody
	if !h.decode(w, r, &body) {
		return
	}
	if len(body.Options) != OptionCount {
		h.writeError(w, r, validationf("exactly %d options are required", OptionCount))
		return
	}
	req := ProposeRequest{Side: Side(body.Side), DurationMinutes: body.DurationMinutes, Timezone: body.Timezone}
	copy(req.Options[:], body.Options)

	p, err := h.negotiator.ProposeReschedule(r.Context(), chi.URLParam(r, "appointmentID"), req, callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.service.ListProposals(r.Context(), chi.URLParam(r, "appointmentID"), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if proposals == nil {
		proposals = []RescheduleProposal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposals": proposals,
		"count":     len(proposals),
	})
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.AuditTrail(r.Context(), chi.URLParam(r, "appointmentID"), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": records})
}

type chooseBody struct {
	Option int `json:"option"`
}

func (h *Handler) chooseOption(w http.ResponseWriter, r *http.Request) {
	var body chooseBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.negotiator.ChooseOption(r.Context(), chi.URLParam(r, "proposalID"), body.Option, callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) rejectProposal(w http.ResponseWriter, r *http.Request) {
	var body reasonRequest
	if !h.decodeOptional(w, r, &body) {
		return
	}
	res, err := h.negotiator.RejectProposal(r.Context(), chi.URLParam(r, "proposalID"), body.Reason, callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) staffAvailability(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := AvailabilityQuery{StaffID: chi.URLParam(r, "staffID"), BufferMinutes: h.availability.DefaultBufferMinutes()}

	var err error
	if q.From, err = parseInstant(query.Get("from")); err != nil {
		h.writeError(w, r, validationf("from must be an RFC3339 timestamp"))
		return
	}
	if q.To, err = parseInstant(query.Get("to")); err != nil {
		h.writeError(w, r, validationf("to must be an RFC3339 timestamp"))
		return
	}
	if raw := strings.TrimSpace(query.Get("buffer_minutes")); raw != "" {
		if q.BufferMinutes, err = strconv.Atoi(raw); err != nil {
			h.writeError(w, r, validationf("buffer_minutes must be an integer"))
			return
		}
	}

	out, err := h.availability.GetAvailability(r.Context(), q, callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func parseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func callerFrom(r *http.Request) caller.Caller {
	who, _ := caller.FromContext(r.Context())
	return who
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.writeError(w, r, validationf("invalid JSON body"))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, validationf("invalid JSON body"))
		return false
	}
	return true
}

// StatusFor maps a scheduling error to an HTTP status code.
func StatusFor(err error) int {
	if errors.Is(err, ErrUnauthenticated) {
		return http.StatusUnauthorized
	}
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	var de *Error
	if status == http.StatusInternalServerError || !errors.As(err, &de) {
		h.logger.Error("scheduling handler: request failed", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "internal",
			"message": "internal error",
		})
		return
	}
	writeJSON(w, status, map[string]string{
		"error":   string(de.Kind),
		"message": de.Detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
