package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-client/pkg/call"
	"github.com/ZentaChain/zentalk-client/pkg/client"
	"github.com/ZentaChain/zentalk-client/pkg/crypto"
	"github.com/ZentaChain/zentalk-client/pkg/protocol"
	"github.com/ZentaChain/zentalk-client/pkg/relay"
	"github.com/ZentaChain/zentalk-client/pkg/storage"
	"github.com/ZentaChain/zentalk-client/pkg/transfer"
)

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, client.ErrNotLoggedIn):
		status = http.StatusServiceUnavailable
	case errors.Is(err, relay.ErrNoRoute):
		status = http.StatusBadGateway
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, transfer.ErrTransferNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transfer.ErrTransferIncomplete),
		errors.Is(err, call.ErrBusy),
		errors.Is(err, call.ErrNotRinging),
		errors.Is(err, call.ErrNoActiveCall):
		status = http.StatusConflict
	case errors.Is(err, client.ErrUnknownChannel),
		errors.Is(err, crypto.ErrInvalidKey):
		status = http.StatusBadRequest
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func (s *Server) handleIdentity(c *gin.Context) {
	pub := s.client.PublicKey()
	if pub == "" {
		fail(c, client.ErrNotLoggedIn)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pubkey": pub})
}

// ProfileRequest publishes the identity's public profile
type ProfileRequest struct {
	Name    string `json:"name" binding:"required"`
	About   string `json:"about"`
	Picture string `json:"picture"`
}

func (s *Server) handlePublishProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.PublishProfile(&protocol.Profile{
		Name:    req.Name,
		About:   req.About,
		Picture: req.Picture,
	}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// MessageRequest sends an encrypted text message
type MessageRequest struct {
	To      string `json:"to" binding:"required"`
	Text    string `json:"text" binding:"required"`
	ReplyTo string `json:"reply_to"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	msg, err := s.client.SendText(req.To, req.Text, req.ReplyTo)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: msg})
}

// TypingRequest sends an ephemeral typing indicator
type TypingRequest struct {
	To        string `json:"to" binding:"required"`
	ChannelID string `json:"channel_id"`
}

func (s *Server) handleSendTyping(c *gin.Context) {
	var req TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.SendTyping(req.To, req.ChannelID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// AttachmentRequest sends a file, base64-encoded
type AttachmentRequest struct {
	To       string `json:"to" binding:"required"`
	FileName string `json:"file_name" binding:"required"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data" binding:"required"`
}

func (s *Server) handleSendAttachment(c *gin.Context) {
	var req AttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid data encoding", Message: "Data must be base64 encoded"})
		return
	}
	if err := s.client.SendAttachment(req.To, req.FileName, req.MimeType, data, nil); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleDownloadAttachment(c *gin.Context) {
	data, err := s.client.DownloadAttachment(c.Param("transferID"))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleListContacts(c *gin.Context) {
	contacts, err := s.client.Contacts()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: contacts})
}

// ContactRequest adds a peer to the address book
type ContactRequest struct {
	PubKey string `json:"pubkey" binding:"required"`
	Name   string `json:"name"`
}

func (s *Server) handleAddContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.AddContact(req.PubKey, req.Name); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleRemoveContact(c *gin.Context) {
	if err := s.client.RemoveContact(c.Param("pubkey")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleContactProfile(c *gin.Context) {
	profile := s.client.Profile(c.Param("pubkey"))
	if profile == nil {
		// The fetch is in flight; the profile arrives on the event stream
		c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Message: "profile requested"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: profile})
}

func (s *Server) handleListChannels(c *gin.Context) {
	channels, err := s.client.Channels()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: channels})
}

// ChannelRequest creates a public channel
type ChannelRequest struct {
	Name  string `json:"name" binding:"required"`
	About string `json:"about"`
}

func (s *Server) handleCreateChannel(c *gin.Context) {
	var req ChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	channel, err := s.client.CreateChannel(req.Name, req.About)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: channel})
}

func (s *Server) handleJoinChannel(c *gin.Context) {
	if err := s.client.JoinChannel(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleLeaveChannel(c *gin.Context) {
	if err := s.client.LeaveChannel(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// ChannelPostRequest posts into a joined channel
type ChannelPostRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handlePostToChannel(c *gin.Context) {
	var req ChannelPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.PostToChannel(c.Param("id"), req.Text); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func connectedRelays(statuses map[string]relay.Status) []string {
	var connected []string
	for url, status := range statuses {
		if status == relay.StatusConnected {
			connected = append(connected, url)
		}
	}
	return connected
}

func (s *Server) handleListRelays(c *gin.Context) {
	statuses := s.client.RelayStatuses()
	out := make(map[string]string, len(statuses))
	for url, status := range statuses {
		out[url] = string(status)
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: out})
}

// RelayRequest names a relay endpoint
type RelayRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) handleAddRelay(c *gin.Context) {
	var req RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.AddRelay(req.URL); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleRemoveRelay(c *gin.Context) {
	var req RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.RemoveRelay(req.URL); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleCallState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": string(s.client.CallState())})
}

// CallRequest starts an outbound call
type CallRequest struct {
	Peer  string `json:"peer" binding:"required"`
	Media string `json:"media" binding:"required"`
}

func (s *Server) handleStartCall(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.StartCall(req.Peer, req.Media); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleAcceptCall(c *gin.Context) {
	if err := s.client.AcceptCall(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleRejectCall(c *gin.Context) {
	if err := s.client.RejectCall(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleEndCall(c *gin.Context) {
	s.client.EndCall()
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// CallMuteRequest toggles the local microphone
type CallMuteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func (s *Server) handleMuteCall(c *gin.Context) {
	var req CallMuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.MuteCall(*req.Muted); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// CallVideoRequest toggles the local camera
type CallVideoRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleCallVideo(c *gin.Context) {
	var req CallVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.client.SetCallVideo(*req.Enabled); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}
