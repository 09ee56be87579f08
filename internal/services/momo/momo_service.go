package momo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookshell/bookshell-backend/internal/config"
	"github.com/bookshell/bookshell-backend/internal/services/gateway"
)

const (
	productCollection   = "collection"
	productDisbursement = "disbursement"
)

// tokenCache holds one bearer credential per MoMo product. Refresh happens
// lazily under the mutex so concurrent requests don't all re-authenticate.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type MomoService struct {
	Client             *http.Client
	BaseURL            string
	APIUser            string
	APIKey             string
	CollectionSubKey   string
	DisbursementSubKey string
	TargetEnvironment  string
	DefaultCountryCode string

	collectionToken   tokenCache
	disbursementToken tokenCache
}

func NewMomoService(cfg config.Config) *MomoService {
	return &MomoService{
		Client:             &http.Client{Timeout: cfg.GatewayTimeout},
		BaseURL:            cfg.MomoBaseURL,
		APIUser:            cfg.MomoAPIUser,
		APIKey:             cfg.MomoAPIKey,
		CollectionSubKey:   cfg.MomoCollectionSubKey,
		DisbursementSubKey: cfg.MomoDisbursementSubKey,
		TargetEnvironment:  cfg.MomoTargetEnvironment,
		DefaultCountryCode: cfg.DefaultCountryCode,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type party struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type payRequest struct {
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ExternalID   string `json:"externalId"`
	Payer        *party `json:"payer,omitempty"`
	Payee        *party `json:"payee,omitempty"`
	PayerMessage string `json:"payerMessage"`
	PayeeNote    string `json:"payeeNote"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// token returns a valid bearer token for the given product, reusing the
// cached one until shortly before expiry. A failed token call fails the
// payment call; there is no internal retry.
func (s *MomoService) token(product string) (string, error) {
	cache := &s.collectionToken
	subKey := s.CollectionSubKey
	if product == productDisbursement {
		cache = &s.disbursementToken
		subKey = s.DisbursementSubKey
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cache.token != "" && time.Now().Before(cache.expiresAt) {
		return cache.token, nil
	}

	req, err := http.NewRequest("POST", s.BaseURL+"/"+product+"/token/", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.APIUser, s.APIKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", subKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("momo token endpoint returned %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to parse token response: %v", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("momo token response missing access_token")
	}

	cache.token = tok.AccessToken
	// refresh one minute early to avoid using a token mid-expiry
	cache.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return cache.token, nil
}

func (s *MomoService) RequestCollection(req gateway.PaymentRequest) gateway.Result {
	return s.requestPay(productCollection, "/collection/v1_0/requesttopay", req)
}

func (s *MomoService) RequestDisbursement(req gateway.PaymentRequest) gateway.Result {
	return s.requestPay(productDisbursement, "/disbursement/v1_0/transfer", req)
}

// requestPay issues a collection or disbursement call. MoMo's success marker
// is an HTTP 202 with an empty body; the correlation id is the X-Reference-Id
// UUID we generate ourselves, which the provider echoes back in callbacks.
func (s *MomoService) requestPay(product, path string, pr gateway.PaymentRequest) gateway.Result {
	token, err := s.token(product)
	if err != nil {
		return gateway.Failure("momo authentication failed: " + err.Error())
	}

	referenceID := uuid.New().String()
	msisdn := gateway.NormalizePhone(pr.PhoneNumber, s.DefaultCountryCode)

	body := payRequest{
		Amount:       strconv.FormatInt(pr.Amount, 10),
		Currency:     pr.Currency,
		ExternalID:   pr.ExternalID,
		PayerMessage: pr.Message,
		PayeeNote:    pr.Message,
	}
	if product == productCollection {
		body.Payer = &party{PartyIDType: "MSISDN", PartyID: msisdn}
	} else {
		body.Payee = &party{PartyIDType: "MSISDN", PartyID: msisdn}
	}

	jsonBody, _ := json.Marshal(body)

	req, err := http.NewRequest("POST", s.BaseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return gateway.Failure(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reference-Id", referenceID)
	req.Header.Set("X-Target-Environment", s.TargetEnvironment)
	subKey := s.CollectionSubKey
	if product == productDisbursement {
		subKey = s.DisbursementSubKey
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", subKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return gateway.Failure(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		var apiErr errorResponse
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Message != "" {
			return gateway.Failure("momo error: " + apiErr.Message)
		}
		return gateway.Failure(fmt.Sprintf("momo returned status %d", resp.StatusCode))
	}

	return gateway.Result{
		Success:     true,
		ReferenceID: referenceID,
		Status:      "PENDING",
	}
}

type statusResponse struct {
	Status                 string `json:"status"`
	Reason                 string `json:"reason"`
	FinancialTransactionID string `json:"financialTransactionId"`
}

// GetStatus polls the provider for a reference's outcome. Collection and
// disbursement references live under different products, so the collection
// endpoint is tried first and a 404 falls through to the transfer endpoint.
func (s *MomoService) GetStatus(referenceID string) gateway.StatusResult {
	res, notFound := s.getStatus(productCollection, "/collection/v1_0/requesttopay/"+referenceID)
	if notFound {
		res, _ = s.getStatus(productDisbursement, "/disbursement/v1_0/transfer/"+referenceID)
	}
	return res
}

func (s *MomoService) getStatus(product, path string) (gateway.StatusResult, bool) {
	token, err := s.token(product)
	if err != nil {
		return gateway.StatusResult{Success: false, Error: "momo authentication failed: " + err.Error()}, false
	}

	req, err := http.NewRequest("GET", s.BaseURL+path, nil)
	if err != nil {
		return gateway.StatusResult{Success: false, Error: err.Error()}, false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", s.TargetEnvironment)
	subKey := s.CollectionSubKey
	if product == productDisbursement {
		subKey = s.DisbursementSubKey
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", subKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return gateway.StatusResult{Success: false, Error: err.Error()}, false
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return gateway.StatusResult{Success: false, Error: "reference not found"}, true
	}
	if resp.StatusCode != http.StatusOK {
		return gateway.StatusResult{Success: false, Error: fmt.Sprintf("momo returned status %d", resp.StatusCode)}, false
	}

	var st statusResponse
	if err := json.Unmarshal(bodyBytes, &st); err != nil {
		return gateway.StatusResult{Success: false, Error: "failed to parse status response: " + err.Error()}, false
	}

	return gateway.StatusResult{
		Success: true,
		Status:  st.Status,
		RawData: json.RawMessage(bodyBytes),
	}, false
}
