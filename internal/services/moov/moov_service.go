package moov

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bookshell/bookshell-backend/internal/config"
	"github.com/bookshell/bookshell-backend/internal/services/gateway"
)

type MoovService struct {
	Client             *http.Client
	BaseURL            string
	ClientID           string
	ClientSecret       string
	DefaultCountryCode string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewMoovService(cfg config.Config) *MoovService {
	return &MoovService{
		Client:             &http.Client{Timeout: cfg.GatewayTimeout},
		BaseURL:            cfg.MoovBaseURL,
		ClientID:           cfg.MoovClientID,
		ClientSecret:       cfg.MoovClientSecret,
		DefaultCountryCode: cfg.DefaultCountryCode,
	}
}

type paymentRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Subscriber  string `json:"subscriber"`
	ExternalRef string `json:"external_ref"`
	Message     string `json:"message"`
}

// paymentResponse is Moov's synchronous answer. Unlike MoMo, success is
// keyed on the body status field, not the HTTP status code.
type paymentResponse struct {
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	Message     string `json:"message"`
}

func (s *MoovService) getToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiresAt) {
		return s.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.ClientID)
	form.Set("client_secret", s.ClientSecret)

	resp, err := s.Client.Post(s.BaseURL+"/oauth/token",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("moov token endpoint returned %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to parse token response: %v", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("moov token response missing access_token")
	}

	s.token = tok.AccessToken
	s.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

func (s *MoovService) RequestCollection(req gateway.PaymentRequest) gateway.Result {
	return s.request("/api/v1/collections", req)
}

func (s *MoovService) RequestDisbursement(req gateway.PaymentRequest) gateway.Result {
	return s.request("/api/v1/disbursements", req)
}

func (s *MoovService) request(path string, pr gateway.PaymentRequest) gateway.Result {
	token, err := s.getToken()
	if err != nil {
		return gateway.Failure("moov authentication failed: " + err.Error())
	}

	body := paymentRequest{
		Amount:      pr.Amount,
		Currency:    pr.Currency,
		Subscriber:  gateway.NormalizePhone(pr.PhoneNumber, s.DefaultCountryCode),
		ExternalRef: pr.ExternalID,
		Message:     pr.Message,
	}
	jsonBody, _ := json.Marshal(body)

	req, err := http.NewRequest("POST", s.BaseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return gateway.Failure(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return gateway.Failure(err.Error())
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	var apiResp paymentResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return gateway.Failure("failed to parse moov response: " + err.Error())
	}

	if apiResp.Status != "ok" {
		if apiResp.Message != "" {
			return gateway.Failure("moov error: " + apiResp.Message)
		}
		return gateway.Failure("moov rejected the request")
	}
	if apiResp.ReferenceID == "" {
		return gateway.Failure("moov response missing reference_id")
	}

	return gateway.Result{
		Success:     true,
		ReferenceID: apiResp.ReferenceID,
		Status:      "PENDING",
	}
}

func (s *MoovService) GetStatus(referenceID string) gateway.StatusResult {
	token, err := s.getToken()
	if err != nil {
		return gateway.StatusResult{Success: false, Error: "moov authentication failed: " + err.Error()}
	}

	req, err := http.NewRequest("GET", s.BaseURL+"/api/v1/transactions/"+referenceID, nil)
	if err != nil {
		return gateway.StatusResult{Success: false, Error: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.Client.Do(req)
	if err != nil {
		return gateway.StatusResult{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return gateway.StatusResult{Success: false, Error: fmt.Sprintf("moov returned status %d", resp.StatusCode)}
	}

	var st struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(bodyBytes, &st); err != nil {
		return gateway.StatusResult{Success: false, Error: "failed to parse status response: " + err.Error()}
	}

	return gateway.StatusResult{
		Success: true,
		Status:  st.Status,
		RawData: json.RawMessage(bodyBytes),
	}
}
