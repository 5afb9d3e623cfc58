/**
 * @description
 * Webhook endpoint for ToyyibPay. The gateway retries on anything other than
 * 200, so the handler always acknowledges and leaves outcomes to the logs.
 */

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
)

const (
	callbackBodyLimit = 1 << 20
	reconcileTimeout  = 30 * time.Second
)

var orderIDFields = []string{"order_id", "orderId", "billExternalReferenceNo"}

// GatewayCallbackHandler accepts form-encoded or JSON notifications.
func (h *Handlers) GatewayCallbackHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, callbackBodyLimit))
	if err != nil {
		log.Printf("level=warn component=api endpoint=gateway_callback msg=\"failed to read callback body\" err=%v", err)
		writeOK(w)
		return
	}

	fields, err := parseCallbackFields(r.Header.Get("Content-Type"), body)
	if err != nil {
		log.Printf("level=warn component=api endpoint=gateway_callback msg=\"unparseable callback body\" err=%v", err)
		writeOK(w)
		return
	}

	notification := notificationFromFields(fields)

	// Reconciliation outlives a dropped gateway connection.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), reconcileTimeout)
	defer cancel()
	result := h.service.ReconcileCallback(ctx, notification)

	log.Printf("level=info component=api endpoint=gateway_callback bill_code=%s order_id=%s outcome=%s", notification.BillCode, notification.OrderID, result.Outcome)
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func parseCallbackFields(contentType string, body []byte) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := bytes.TrimSpace(body)

	if mediaType == "application/json" || (mediaType == "" && bytes.HasPrefix(trimmed, []byte("{"))) {
		raw := map[string]interface{}{}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			if v == nil {
				continue
			}
			fields[k] = fmt.Sprint(v)
		}
		return fields, nil
	}

	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return fields, nil
}

func notificationFromFields(fields map[string]string) domain.GatewayNotification {
	n := domain.GatewayNotification{
		Status:          fields["status"],
		BillCode:        fields["billcode"],
		RefNo:           fields["refno"],
		Amount:          fields["amount"],
		TransactionTime: fields["transaction_time"],
	}
	for _, key := range orderIDFields {
		if v := strings.TrimSpace(fields[key]); v != "" {
			n.OrderID = v
			break
		}
	}
	return n.Normalize()
}
