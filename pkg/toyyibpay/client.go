/**
 * @description
 * This package provides a client for the ToyyibPay bill API. It builds the
 * form-encoded requests the gateway expects, converts amounts to minor units,
 * and parses the array-shaped JSON responses.
 *
 * @notes
 * - Callers pass amounts in RM. Conversion to sen (x100, rounded) happens here and
 *   nowhere else.
 * - ToyyibPay reports numbers inconsistently (string or number), see FlexString.
 */
package toyyibpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	maxBillNameLength        = 30
	maxBillDescriptionLength = 100
	paymentStatusSuccess     = "1"
)

var ErrBillCodeMissing = errors.New("toyyibpay: response did not include a bill code")

// Client is a client for the ToyyibPay API.
type Client struct {
	BaseURL      string
	SecretKey    string
	CategoryCode string
	HTTPClient   *http.Client
}

// NewClient creates a new ToyyibPay API client.
func NewClient(baseURL, secretKey, categoryCode string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		SecretKey:    secretKey,
		CategoryCode: categoryCode,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Bill describes a bill to be created. Amount is in RM.
type Bill struct {
	Name        string
	Description string
	Amount      float64
	ReturnURL   string
	CallbackURL string
	ExternalRef string
	PayerName   string
	PayerEmail  string
	PayerPhone  string
}

// BillTransaction is one row of a getBillTransactions response.
type BillTransaction struct {
	BillName           string     `json:"billName"`
	BillDescription    string     `json:"billDescription"`
	BillTo             string     `json:"billTo"`
	BillEmail          string     `json:"billEmail"`
	BillPhone          string     `json:"billPhone"`
	BillStatus         FlexString `json:"billStatus"`
	BillPaymentStatus  FlexString `json:"billpaymentStatus"`
	BillPaymentAmount  FlexString `json:"billpaymentAmount"`
	BillPaymentDate    string     `json:"billPaymentDate"`
	BillPaymentInvoice string     `json:"billpaymentInvoiceNo"`
	BillExternalRef    string     `json:"billExternalReferenceNo"`
}

// Paid reports whether the gateway marks this row as successfully paid.
func (t BillTransaction) Paid() bool {
	return strings.TrimSpace(string(t.BillPaymentStatus)) == paymentStatusSuccess
}

// Amount parses the paid amount in RM. ok is false when it is absent or invalid.
func (t BillTransaction) Amount() (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(t.BillPaymentAmount)), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// FlexString accepts a JSON string, number, bool or null.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(raw)
	return nil
}

// APIError is returned when ToyyibPay answers with an error or an unexpected body.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("toyyibpay %s error (status %d): %s", e.Op, e.StatusCode, e.Body)
}

type createBillResponse struct {
	BillCode string `json:"BillCode"`
}

// ToCents converts an RM amount to sen.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// PaymentURL is the hosted payment page for a bill.
func (c *Client) PaymentURL(billCode string) string {
	return c.BaseURL + "/" + billCode
}

// CreateBill creates a bill and returns its bill code.
func (c *Client) CreateBill(ctx context.Context, bill Bill) (string, error) {
	form := url.Values{}
	form.Set("userSecretKey", c.SecretKey)
	form.Set("categoryCode", c.CategoryCode)
	form.Set("billName", truncate(bill.Name, maxBillNameLength))
	form.Set("billDescription", truncate(bill.Description, maxBillDescriptionLength))
	form.Set("billPriceSetting", "1")
	form.Set("billPayorInfo", "0")
	form.Set("billAmount", strconv.FormatInt(ToCents(bill.Amount), 10))
	form.Set("billReturnUrl", bill.ReturnURL)
	form.Set("billCallbackUrl", bill.CallbackURL)
	form.Set("billExternalReferenceNo", bill.ExternalRef)
	form.Set("billTo", bill.PayerName)
	form.Set("billEmail", bill.PayerEmail)
	form.Set("billPhone", bill.PayerPhone)
	form.Set("billSplitPayment", "0")
	form.Set("billSplitPaymentArgs", "")
	form.Set("billPaymentChannel", "0")

	body, err := c.postForm(ctx, "createBill", form)
	if err != nil {
		return "", err
	}

	var resp []createBillResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Printf("level=warn component=toyyibpay_client op=createBill msg=\"unparsable response\" body=%q", snippet(body))
		return "", &APIError{Op: "createBill", StatusCode: http.StatusOK, Body: snippet(body)}
	}
	if len(resp) == 0 || strings.TrimSpace(resp[0].BillCode) == "" {
		return "", fmt.Errorf("%w: %s", ErrBillCodeMissing, snippet(body))
	}
	return strings.TrimSpace(resp[0].BillCode), nil
}

// GetBillTransactions lists the successful payment rows recorded for a bill.
func (c *Client) GetBillTransactions(ctx context.Context, billCode string) ([]BillTransaction, error) {
	form := url.Values{}
	form.Set("billCode", billCode)
	form.Set("billpaymentStatus", paymentStatusSuccess)

	body, err := c.postForm(ctx, "getBillTransactions", form)
	if err != nil {
		return nil, err
	}

	var rows []BillTransaction
	if err := json.Unmarshal(body, &rows); err != nil {
		log.Printf("level=warn component=toyyibpay_client op=getBillTransactions bill_code=%s msg=\"unparsable response\"", billCode)
		return nil, &APIError{Op: "getBillTransactions", StatusCode: http.StatusOK, Body: snippet(body)}
	}
	return rows, nil
}

func (c *Client) postForm(ctx context.Context, op string, form url.Values) ([]byte, error) {
	endpoint := c.BaseURL + "/index.php/api/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=toyyibpay_client op=%s status=%d msg=\"non-2xx response\"", op, resp.StatusCode)
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: snippet(body)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func snippet(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
