package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

const (
	DefaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"
	// Expo accepts at most 100 messages per request.
	DefaultChunkSize = 100
)

// ExpoGateway posts messages to the Expo push service.
type ExpoGateway struct {
	Endpoint    string
	AccessToken string
	ChunkSize   int
	Client      *http.Client
}

func NewExpoGateway(endpoint, accessToken string, chunkSize int, timeout time.Duration) *ExpoGateway {
	if endpoint == "" {
		endpoint = DefaultExpoEndpoint
	}
	if chunkSize <= 0 || chunkSize > DefaultChunkSize {
		chunkSize = DefaultChunkSize
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExpoGateway{Endpoint: endpoint, AccessToken: accessToken, ChunkSize: chunkSize, Client: &http.Client{Timeout: timeout}}
}

func (e *ExpoGateway) IsValidToken(token string) bool { return IsExpoPushToken(token) }

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

// SendBatch sends msgs in chunks. Any failed chunk fails the whole call;
// tickets of chunks already accepted are discarded with it.
func (e *ExpoGateway) SendBatch(ctx context.Context, msgs []Message) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0, len(msgs))
	for start := 0; start < len(msgs); start += e.ChunkSize {
		end := start + e.ChunkSize
		if end > len(msgs) {
			end = len(msgs)
		}
		chunk := msgs[start:end]
		got, err := e.sendChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, got...)
	}
	observability.PushMessagesTotal.Add(float64(len(msgs)))
	return tickets, nil
}

func (e *ExpoGateway) sendChunk(ctx context.Context, chunk []Message) ([]models.Ticket, error) {
	start := time.Now()
	defer func() { observability.PushLatency.Observe(time.Since(start).Seconds()) }()

	b, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("encode push batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.AccessToken)
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGateway, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", models.ErrGateway, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrGateway, resp.StatusCode, bytes.TrimSpace(body))
	}
	var out expoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", models.ErrGateway, err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", models.ErrGateway, out.Errors[0].Code, out.Errors[0].Message)
	}
	if len(out.Data) != len(chunk) {
		return nil, fmt.Errorf("%w: expected %d tickets, got %d", models.ErrGateway, len(chunk), len(out.Data))
	}

	tickets := make([]models.Ticket, len(chunk))
	for i, t := range out.Data {
		tickets[i] = models.Ticket{Token: chunk[i].To, Status: t.Status, ID: t.ID, Message: t.Message, Code: t.Details.Error}
		if tickets[i].Status != models.TicketOK {
			tickets[i].Status = models.TicketError
		}
	}
	return tickets, nil
}
