package gateway

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"smsform/pkg/conversation"
	"smsform/pkg/logger"
)

// ConversationList is the body of GET /api/conversations.
type ConversationList struct {
	PhoneNumbers []string `json:"phone_numbers"`
}

// ConversationView is the body of GET /api/conversations/{phone}.
type ConversationView struct {
	PhoneNumber         string                        `json:"phone_number"`
	Transcript          []conversation.Message        `json:"transcript"`
	Collected           map[conversation.Field]string `json:"collected"`
	PendingField        conversation.Field            `json:"pending_field,omitempty"`
	PendingConfirmation *string                       `json:"pending_confirmation,omitempty"`
	Started             bool                          `json:"started"`
	Complete            bool                          `json:"complete"`
	CreatedAt           time.Time                     `json:"created_at"`
	UpdatedAt           time.Time                     `json:"updated_at"`
}

// DeleteResult is the body of DELETE /api/conversations/{phone}.
type DeleteResult struct {
	PhoneNumber string `json:"phone_number"`
	Deleted     bool   `json:"deleted"`
}

func newConversationView(st conversation.State) ConversationView {
	transcript := st.Transcript
	if transcript == nil {
		transcript = []conversation.Message{}
	}

	return ConversationView{
		PhoneNumber:         st.Phone,
		Transcript:          transcript,
		Collected:           st.Collected,
		PendingField:        st.Pending,
		PendingConfirmation: st.Proposed,
		Started:             st.Started,
		Complete:            st.Complete(),
		CreatedAt:           st.CreatedAt,
		UpdatedAt:           st.UpdatedAt,
	}
}

func (s *Service) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ConversationList{PhoneNumbers: s.store.Keys()})
}

func (s *Service) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)

	st, ok := s.store.Get(phone)
	if !ok {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	s.writeJSON(w, http.StatusOK, newConversationView(st))
}

func (s *Service) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)

	deleted := s.store.Delete(phone)
	if deleted {
		s.log.Info("Conversation deleted", "phone", logger.MaskPhone(phone))
	}

	s.writeJSON(w, http.StatusOK, DeleteResult{PhoneNumber: phone, Deleted: deleted})
}

// phoneParam returns the {phone} path segment. Clients usually send the
// leading plus percent-encoded.
func phoneParam(r *http.Request) string {
	raw := chi.URLParam(r, "phone")
	if phone, err := url.PathUnescape(raw); err == nil {
		return phone
	}
	return raw
}
