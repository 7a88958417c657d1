package httpgin

import (
	"time"

	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/service/admission"
)

type CheckInRequest struct {
	EventID        int64  `json:"event_id" binding:"required,gt=0"`
	ScannedPayload string `json:"scanned_payload" binding:"required"`
	ScannedBy      string `json:"scanned_by" binding:"required,max=128"`
}

type CheckInResponse struct {
	Outcome             domain.Outcome `json:"outcome"`
	Reason              domain.Reason  `json:"reason"`
	TicketID            string         `json:"ticket_id,omitempty"`
	AttendeeDisplayName string         `json:"attendee_display_name,omitempty"`
	RecordID            string         `json:"record_id,omitempty"`
	Retryable           bool           `json:"retryable"`
}

type OpenCheckInRequest struct {
	Capacity int64 `json:"capacity" binding:"required,gt=0"`
}

type CheckInWindowResponse struct {
	EventID   int64     `json:"event_id"`
	Capacity  int64     `json:"capacity"`
	CheckedIn int64     `json:"checked_in"`
	OpenedAt  time.Time `json:"opened_at"`
}

func newCheckInWindowResponse(w *domain.CheckInWindow) CheckInWindowResponse {
	return CheckInWindowResponse{
		EventID:   w.EventID,
		Capacity:  w.Capacity,
		CheckedIn: w.CheckedIn,
		OpenedAt:  w.OpenedAt,
	}
}

type IssueTicketRequest struct {
	EventID      int64  `json:"event_id" binding:"required,gt=0"`
	UserID       int64  `json:"user_id" binding:"required,gt=0"`
	AttendeeName string `json:"attendee_name" binding:"max=256"`
}

type TicketResponse struct {
	TicketID     string     `json:"ticket_id"`
	EventID      int64      `json:"event_id"`
	UserID       int64      `json:"user_id"`
	TicketCode   string     `json:"ticket_code"`
	QRPayload    string     `json:"qr_payload,omitempty"`
	AttendeeName string     `json:"attendee_name,omitempty"`
	Status       string     `json:"status"`
	IssuedAt     time.Time  `json:"issued_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

type CheckInRecordResponse struct {
	RecordID  string    `json:"record_id"`
	EventID   int64     `json:"event_id"`
	ScannedBy string    `json:"scanned_by"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason"`
}

type RebuildMetricsResponse struct {
	EventID        int64 `json:"event_id"`
	TotalCheckedIn int64 `json:"total_checked_in"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func newCheckInResponse(v admission.Verdict) CheckInResponse {
	resp := CheckInResponse{
		Outcome:   v.Outcome,
		Reason:    v.Reason,
		Retryable: v.Outcome.Retryable(),
	}
	if v.TicketID != nil && v.Outcome != domain.OutcomeInvalid {
		resp.TicketID = v.TicketID.String()
	}
	if v.Outcome.Admitted() {
		resp.AttendeeDisplayName = v.AttendeeName
	}
	if v.Outcome.Journaled() {
		resp.RecordID = v.RecordID.String()
	}
	return resp
}

// newTicketResponse omits the credential unless withPayload is set; only the
// issuing call hands it out.
func newTicketResponse(t *domain.Ticket, withPayload bool) TicketResponse {
	resp := TicketResponse{
		TicketID:     t.ID.String(),
		EventID:      t.EventID,
		UserID:       t.UserID,
		TicketCode:   t.TicketCode,
		AttendeeName: t.AttendeeName,
		Status:       string(t.Status),
		IssuedAt:     t.IssuedAt,
		UsedAt:       t.UsedAt,
		CancelledAt:  t.CancelledAt,
	}
	if withPayload {
		resp.QRPayload = t.QRPayload
	}
	return resp
}

func newCheckInRecordResponses(recs []domain.CheckInRecord) []CheckInRecordResponse {
	out := make([]CheckInRecordResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, CheckInRecordResponse{
			RecordID:  r.ID.String(),
			EventID:   r.EventID,
			ScannedBy: r.ScannedBy,
			Timestamp: r.Timestamp,
			Outcome:   string(r.Outcome),
			Reason:    string(r.Reason),
		})
	}
	return out
}
