package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Capturer interface {
	Capture(ctx context.Context, in usecase.CaptureInput) (usecase.CaptureOutput, error)
}

type Chatter interface {
	Send(ctx context.Context, id domain.Identity, message string) (string, error)
	ListChats(ctx context.Context, subjectID string, limit int) ([]domain.ChatSummary, error)
	ReadHistory(ctx context.Context, id domain.Identity, limit int) ([]domain.HistoryMessage, error)
}

type ReceiptLister interface {
	ListReceipts(ctx context.Context, subjectID string, limit int) ([]domain.ReceiptRecord, error)
}

type CaptureLister interface {
	ListCaptures(ctx context.Context, subjectID string, limit int) ([]domain.CaptureRecord, error)
}

// Services are the use cases routed by the handler. Captures is optional.
type Services struct {
	Capture  Capturer
	Chat     Chatter
	Receipts ReceiptLister
	Captures CaptureLister
}

type Handler struct {
	svc    Services
	logger *slog.Logger
}

func NewHandler(svc Services, logger *slog.Logger) (*Handler, error) {
	if svc.Capture == nil || svc.Chat == nil || svc.Receipts == nil {
		return nil, errors.New("handler: capture, chat and receipts services are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}, nil
}

type captureRequest struct {
	SubjectID string `json:"subjectId"`
	Image     string `json:"image"`
	MIMEType  string `json:"mimeType"`
	OCRText   string `json:"ocrText"`
}

type captureResponse struct {
	ChatID          string                   `json:"chatId"`
	PrimaryRecordID string                   `json:"primaryRecordId,omitempty"`
	Extracted       json.RawMessage          `json:"extracted"`
	Result          domain.RecordsSyncResult `json:"result"`
}

type chatRequest struct {
	SubjectID string `json:"subjectId"`
	ChatID    string `json:"chatId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Answer string `json:"answer"`
	ChatID string `json:"chatId"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handle routes one API Gateway request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	status, body := h.route(ctx, req)
	if status >= http.StatusBadRequest {
		logger.Warn("handler: request failed", "status", status)
	} else {
		logger.Info("handler: request served", "status", status)
	}
	return respond(status, body, corrID), nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	q := req.QueryStringParameters
	switch req.HTTPMethod + " " + strings.TrimRight(req.Path, "/") {
	case "POST /capture":
		return h.capture(ctx, req.Body)
	case "POST /chat":
		return h.chat(ctx, req.Body)
	case "GET /receipts":
		out, err := h.svc.Receipts.ListReceipts(ctx, q["subjectId"], queryInt(q, "limit"))
		return result(out, err)
	case "GET /chats":
		out, err := h.svc.Chat.ListChats(ctx, q["subjectId"], queryInt(q, "limit"))
		return result(out, err)
	case "GET /history":
		id := domain.Identity{SubjectID: q["subjectId"], ChatID: q["chatId"]}
		out, err := h.svc.Chat.ReadHistory(ctx, id, queryInt(q, "limit"))
		return result(out, err)
	case "GET /captures":
		if h.svc.Captures == nil {
			return http.StatusNotFound, errorResponse{Error: "not_found", Message: "capture journal is not enabled"}
		}
		out, err := h.svc.Captures.ListCaptures(ctx, q["subjectId"], queryInt(q, "limit"))
		return result(out, err)
	default:
		return http.StatusNotFound, errorResponse{Error: "not_found", Message: "no route for " + req.HTTPMethod + " " + req.Path}
	}
}

func (h *Handler) capture(ctx context.Context, raw string) (int, any) {
	var in captureRequest
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return invalidBody()
	}
	image, err := base64.StdEncoding.DecodeString(in.Image)
	if err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(domain.AdviceCheckInput), Message: "image_not_base64"}
	}
	out, err := h.svc.Capture.Capture(ctx, usecase.CaptureInput{
		SubjectID: in.SubjectID,
		Image:     image,
		MIMEType:  in.MIMEType,
		OCRText:   in.OCRText,
	})
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, captureResponse{
		ChatID:          out.ChatID,
		PrimaryRecordID: out.PrimaryRecordID,
		Extracted:       json.RawMessage(out.ExtractedJSON),
		Result:          out.Result,
	}
}

func (h *Handler) chat(ctx context.Context, raw string) (int, any) {
	var in chatRequest
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return invalidBody()
	}
	if in.ChatID == "" {
		in.ChatID = domain.NewChatID()
	}
	id := domain.Identity{SubjectID: in.SubjectID, ChatID: in.ChatID}
	answer, err := h.svc.Chat.Send(ctx, id, in.Message)
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, chatResponse{Answer: answer, ChatID: id.ChatID}
}

func result(out any, err error) (int, any) {
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, out
}

func invalidBody() (int, any) {
	return http.StatusBadRequest, errorResponse{Error: string(domain.AdviceCheckInput), Message: "invalid_json_body"}
}

// failure maps an error to a status through the remedy offered to the user.
func failure(err error) (int, any) {
	var e *domain.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, errorResponse{Error: "internal", Message: "unexpected error"}
	}
	if errors.Is(err, domain.ErrWriteConflict) {
		return http.StatusConflict, errorResponse{Error: "write_conflict", Message: e.Reason}
	}

	advice := domain.Advise(err)
	status := http.StatusBadGateway
	switch advice {
	case domain.AdviceRetry:
		status = http.StatusServiceUnavailable
	case domain.AdviceReconnect:
		status = http.StatusUnauthorized
	case domain.AdviceCheckInput:
		status = http.StatusBadRequest
	}
	return status, errorResponse{Error: string(advice), Message: e.Reason}
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"internal","message":"response not encodable"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(payload),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func queryInt(q map[string]string, key string) int {
	n, err := strconv.Atoi(q[key])
	if err != nil {
		return 0
	}
	return n
}
