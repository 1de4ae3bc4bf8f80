package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"matchquiz/models"
	"matchquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// SessionService is the part of the controller the bridge drives.
type SessionService interface {
	services.SessionActions
	Start(ctx context.Context, d models.SessionDescriptor) error
	Reset()
}

type SessionHandler struct {
	ctx         context.Context
	session     SessionService
	descriptors services.DescriptorStore
	profile     string
	sessionTTL  time.Duration
	shareURL    func(roomCode string) string
	now         func() time.Time
}

type JoinSessionRequest struct {
	RoomCode string `json:"roomCode" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

type SubmitAnswerRequest struct {
	OptionID string `json:"optionId" binding:"required"`
}

type RequestMediaRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// NewSessionHandler builds the handler. ctx outlives individual requests and
// scopes the relay connection started through the bridge.
func NewSessionHandler(
	ctx context.Context,
	session SessionService,
	descriptors services.DescriptorStore,
	profile string,
	sessionTTL time.Duration,
	shareURL func(roomCode string) string,
) *SessionHandler {
	return &SessionHandler{
		ctx:         ctx,
		session:     session,
		descriptors: descriptors,
		profile:     profile,
		sessionTTL:  sessionTTL,
		shareURL:    shareURL,
		now:         time.Now,
	}
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.View())
}

// JoinSession stores a descriptor for the given room and starts it.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.session.View().Started {
		c.JSON(http.StatusConflict, gin.H{"error": services.ErrAlreadyStarted.Error()})
		return
	}

	role, ok := models.ParseRole(req.Role)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrInvalidRole.Error()})
		return
	}

	descriptor := models.NewSessionDescriptor(req.RoomCode, role, h.sessionTTL, h.now())
	if err := descriptor.Validate(h.now()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.descriptors.Save(c.Request.Context(), h.profile, descriptor); err != nil {
		log.Printf("Error saving session descriptor for %s: %v", h.profile, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store session"})
		return
	}

	if err := h.session.Start(h.ctx, descriptor); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, h.session.View())
}

// StartSession resumes the session named by the stored descriptor.
func (h *SessionHandler) StartSession(c *gin.Context) {
	if err := services.StartFromStore(h.ctx, h.session, h.descriptors, h.profile); err != nil {
		if errors.Is(err, services.ErrNoValidSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No valid session", "detail": err.Error()})
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.session.View())
}

func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.session.SubmitAnswer(req.OptionID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, h.session.View())
}

func (h *SessionHandler) RequestMedia(c *gin.Context) {
	var req RequestMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID, err := h.session.RequestMatchResults(models.MediaKind(req.Kind))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"requestId": requestID})
}

func (h *SessionHandler) DismissNotice(c *gin.Context) {
	h.session.DismissNotice()
	c.Status(http.StatusNoContent)
}

// ResetSession abandons the session and forgets the stored descriptor.
func (h *SessionHandler) ResetSession(c *gin.Context) {
	h.session.Reset()

	if err := h.descriptors.Clear(c.Request.Context(), h.profile); err != nil {
		log.Printf("Error clearing session descriptor for %s: %v", h.profile, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session reset"})
}

// ShareCode renders the partner invite link as a PNG QR code.
func (h *SessionHandler) ShareCode(c *gin.Context) {
	roomCode := h.session.View().Session.RoomCode
	if roomCode == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active room"})
		return
	}

	png, err := qrcode.Encode(h.shareURL(roomCode), qrcode.Medium, qrSize)
	if err != nil {
		log.Printf("QR generation failed for room %s: %v", roomCode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "QR generation failed"})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrNoValidSession):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAlreadyStarted),
		errors.Is(err, services.ErrNotStarted),
		errors.Is(err, services.ErrNotInProgress),
		errors.Is(err, services.ErrNoActiveQuestion),
		errors.Is(err, services.ErrUnknownOption),
		errors.Is(err, services.ErrNotCompleted),
		errors.Is(err, services.ErrUnknownMediaKind):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
