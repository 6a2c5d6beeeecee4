package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"guidebook/models"
	"guidebook/utils"

	"github.com/shopspring/decimal"
)

const (
	mpesaTokenPath     = "/oauth/v1/generate?grant_type=client_credentials"
	mpesaSTKPushPath   = "/mpesa/stkpush/v1/processrequest"
	mpesaTimestamp     = "20060102150405"
	mpesaTransactionTy = "CustomerPayBillOnline"
)

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// Mpesa takes mobile money through Safaricom Daraja STK push.
type Mpesa struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string

	HTTP *http.Client
	Now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewMpesa(baseURL, consumerKey, consumerSecret, shortCode, passKey, callbackURL string, timeout time.Duration) *Mpesa {
	return &Mpesa{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		ShortCode:      shortCode,
		PassKey:        passKey,
		CallbackURL:    callbackURL,
		HTTP:           &http.Client{Timeout: timeoutOrDefault(timeout)},
		Now:            time.Now,
	}
}

func (m *Mpesa) Name() models.Gateway         { return models.GatewayMpesa }
func (m *Mpesa) Method() models.PaymentMethod { return models.MethodMobileMoney }

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type mpesaErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (m *Mpesa) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// accessToken returns the cached OAuth token, fetching a new one a minute
// before the old one expires.
func (m *Mpesa) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.tokenExpiry) {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL+mpesaTokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(m.ConsumerKey, m.ConsumerSecret)
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mpesa token request returned %d", resp.StatusCode)
	}

	var tok mpesaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding mpesa token failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("mpesa returned an empty access token")
	}
	ttl, err := strconv.Atoi(tok.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	m.token = tok.AccessToken
	m.tokenExpiry = m.now().Add(time.Duration(ttl)*time.Second - time.Minute)
	return m.token, nil
}

// Initiate sends an STK push prompt to the payer's phone. Daraja only takes
// whole shillings, so the amount is rounded.
func (m *Mpesa) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := m.now().In(eat).Format(mpesaTimestamp)
	body := stkPushRequest{
		BusinessShortCode: m.ShortCode,
		Password:          base64.StdEncoding.EncodeToString([]byte(m.ShortCode + m.PassKey + ts)),
		Timestamp:         ts,
		TransactionType:   mpesaTransactionTy,
		Amount:            MpesaAmount(req.Amount),
		PartyA:            phone,
		PartyB:            m.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       m.CallbackURL,
		AccountReference:  "BK" + req.BookingID,
		TransactionDesc:   req.Description,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+mpesaSTKPushPath, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stk push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr mpesaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("stk push returned %d: %s %s", resp.StatusCode, apiErr.ErrorCode, apiErr.ErrorMessage)
	}
	var out stkPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding stk push response failed: %w", err)
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return nil, fmt.Errorf("stk push rejected: %s %s", out.ResponseCode, out.ResponseDescription)
	}

	return &InitiateResult{
		ExternalRef: out.CheckoutRequestID,
		Message:     out.CustomerMessage,
		Metadata: map[string]string{
			models.MetaPhone:    phone,
			"merchantRequestId": out.MerchantRequestID,
		},
	}, nil
}

// MpesaAmount is the whole-shilling amount an STK push charges for amount.
// Half a shilling rounds up, so 110.50 KES is charged as 111. Callbacks are
// checked against this rounded figure, not the booking total.
func MpesaAmount(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []struct {
			Name  string `json:"Name"`
			Value any    `json:"Value"`
		} `json:"Item"`
	} `json:"CallbackMetadata"`
}

// ParseWebhook reads an STK push callback. Daraja does not sign callbacks,
// so only the shape is checked here; the reference still has to match a
// payment we issued.
func (m *Mpesa) ParseWebhook(payload []byte, _ http.Header) (*Notification, error) {
	var env stkCallbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, utils.Validation("malformed mpesa callback: %v", err)
	}
	cb := env.Body.StkCallback
	if cb == nil || cb.CheckoutRequestID == "" {
		return nil, utils.Validation("mpesa callback has no stkCallback")
	}

	out := Outcome{
		Succeeded: cb.ResultCode == 0,
		Currency:  "KES",
		Metadata:  map[string]string{"resultCode": strconv.Itoa(cb.ResultCode)},
	}
	if !out.Succeeded {
		out.FailureReason = cb.ResultDesc
		if out.FailureReason == "" {
			out.FailureReason = models.FailureDeclined
		}
		return &Notification{Ref: cb.CheckoutRequestID, Outcome: out}, nil
	}

	if cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				if d, ok := decimalValue(item.Value); ok {
					out.Amount = decimal.NewNullDecimal(d)
				}
			case "MpesaReceiptNumber":
				out.Receipt = stringValue(item.Value)
			case "PhoneNumber":
				out.Metadata[models.MetaPhone] = stringValue(item.Value)
			}
		}
	}
	return &Notification{Ref: cb.CheckoutRequestID, Outcome: out}, nil
}

func decimalValue(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	}
	return decimal.Zero, false
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// NormalizePhone turns Kenyan mobile numbers such as "0712 345 678" or
// "+254712345678" into the 2547XXXXXXXX form Daraja expects.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '+' || r == '(' || r == ')':
		default:
			return "", utils.Validation("invalid phone number %q", raw)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && digits[0] == '0':
		digits = "254" + digits[1:]
	case len(digits) == 9 && (digits[0] == '7' || digits[0] == '1'):
		digits = "254" + digits
	}
	if len(digits) != 12 || !strings.HasPrefix(digits, "254") || (digits[3] != '7' && digits[3] != '1') {
		return "", utils.Validation("invalid phone number %q", raw)
	}
	return digits, nil
}
