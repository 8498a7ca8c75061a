package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nexuschat/nexus/internal/server/assistant"
	"github.com/nexuschat/nexus/internal/server/models"
)

type createConversationRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type conversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type postMessageRequest struct {
	Message string `json:"message" validate:"required,max=32000"`
	Model   string `json:"model" validate:"max=200"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type createDocumentRequest struct {
	FileName    string `json:"file_name" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"max=255"`
}

type attachmentResponse struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	UploadURL   string    `json:"upload_url,omitempty"`
}

func toConversation(c *models.Conversation) conversationResponse {
	return conversationResponse{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func toMessage(m *models.Message) messageResponse {
	return messageResponse{ID: m.ID, Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt}
}

func toAttachment(a *models.Attachment) attachmentResponse {
	return attachmentResponse{ID: a.ID, FileName: a.FileName, ContentType: a.ContentType, CreatedAt: a.CreatedAt}
}

func (s *Server) createConversation(c echo.Context) error {
	var req createConversationRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	conv, err := s.svc.Conversations.Create(c.Request().Context(), currentUser(c).ID, req.Title)
	if err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusOK, toConversation(conv))
}

func (s *Server) listConversations(c echo.Context) error {
	list, err := s.svc.Conversations.List(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return s.writeError(c, err, "")
	}
	out := make([]conversationResponse, 0, len(list))
	for _, conv := range list {
		out = append(out, toConversation(conv))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) deleteConversation(c echo.Context) error {
	if err := s.svc.Conversations.Delete(c.Request().Context(), currentUser(c).ID, c.Param("id")); err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "Conversation deleted"})
}

func (s *Server) listMessages(c echo.Context) error {
	list, err := s.svc.Conversations.Messages(c.Request().Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		return s.writeError(c, err, "")
	}
	out := make([]messageResponse, 0, len(list))
	for _, m := range list {
		out = append(out, toMessage(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) postMessage(c echo.Context) error {
	var req postMessageRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	answer, err := s.svc.Conversations.PostMessage(c.Request().Context(), currentUser(c).ID, c.Param("id"), req.Message, req.Model)
	if err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusOK, toMessage(answer))
}

func (s *Server) createDocument(c echo.Context) error {
	var req createDocumentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	task, err := s.svc.Attachments.CreateUpload(c.Request().Context(), currentUser(c).ID, c.Param("id"), req.FileName, req.ContentType)
	if err != nil {
		return s.writeError(c, err, "")
	}
	out := toAttachment(task.Attachment)
	out.UploadURL = task.URL
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) listDocuments(c echo.Context) error {
	list, err := s.svc.Attachments.List(c.Request().Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		return s.writeError(c, err, "")
	}
	out := make([]attachmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAttachment(a))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) downloadAttachment(c echo.Context) error {
	url, err := s.svc.Attachments.DownloadURL(c.Request().Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		return s.writeError(c, err, "")
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

func (s *Server) listModels(c echo.Context) error {
	return c.JSON(http.StatusOK, assistant.Models())
}

func health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
