package usecase

import (
	"encoding/base64"
	"fmt"
	"strings"

	"receipt-agent/internal/domain"
)

const defaultImageMIME = "image/jpeg"

func imageDataURL(mime string, image []byte) string {
	mime = strings.TrimSpace(mime)
	if mime == "" {
		mime = defaultImageMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

func buildExtractionMessages(dataURL, ocrText string) []domain.ChatMessage {
	parts := []domain.ContentPart{domain.TextPart("Extract this receipt.")}
	if text := normalizePromptInput(ocrText); text != "" {
		parts = append(parts, domain.TextPart("Recognised text:\n"+text))
	}
	parts = append(parts, domain.ImagePart(dataURL))

	return []domain.ChatMessage{
		{Role: "system", Content: buildExtractionPrompt()},
		{Role: "user", Parts: parts},
	}
}

func buildExtractionPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You read photographed shopping receipts.",
		"",
		"Task:",
		"Extract the purchase and every line item from the attached image.",
		"",
		"Rules:",
		extractionRules(),
		"",
		"Output Contract:",
		extractionContract(),
	}, "\n")
}

func extractionRules() string {
	return strings.Join([]string{
		"1) Copy the store name as printed.",
		"2) Amounts are plain decimal numbers without currency symbols.",
		"3) Dates use ISO-8601; omit purchased_at when no date is legible.",
		"4) Use an ISO 4217 currency code; assume USD when none is shown.",
		"5) Never invent items that are not on the receipt.",
	}, "\n")
}

func extractionContract() string {
	return "Return one JSON object only with keys store_name (string), total (number), " +
		"currency (string), purchased_at (string), raw_text (string) and items " +
		"(array of objects with item_name, quantity, unit_price, line_total, category)."
}

func buildPersistMessages(extractedJSON string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildPersistPrompt()},
		{Role: "user", Content: extractedJSON},
	}
}

func buildPersistPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You file receipts into structured records.",
		"",
		"Task:",
		fmt.Sprintf("Save the receipt below as one %s record and one %s record per line item.",
			domain.TableReceipts, domain.TableReceiptItems),
		fmt.Sprintf("Link every %s record to its receipt through receipt_id.", domain.TableReceiptItems),
		"",
		"Output Contract:",
		"Reply with a one-sentence confirmation naming the store and total.",
	}, "\n")
}

func buildChatMessages(message string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildChatPrompt()},
		{Role: "user", Content: strings.TrimSpace(message)},
	}
}

func buildChatPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are a personal spending assistant.",
		"",
		"Behavior Rules:",
		"1) Answer from the user's saved receipts and prior conversation.",
		"2) Quote amounts with their currency.",
		"3) If no saved receipt answers the question, say so plainly.",
	}, "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
