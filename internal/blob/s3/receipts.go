package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// ReceiptArchive implements domain.ReceiptArchive. Each resolved payment is
// one JSON object keyed by its lowercase transaction hash:
//
//	{prefix}/{txHash}.json
//	{prefix}/recovery/{timestamp}.jsonl
type ReceiptArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
	now    func() time.Time
}

// NewReceiptArchive creates an archive under prefix.
func NewReceiptArchive(w domain.BlobWriter, r domain.BlobReader, prefix string) *ReceiptArchive {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "receipts"
	}
	return &ReceiptArchive{writer: w, reader: r, prefix: prefix, now: time.Now}
}

func (a *ReceiptArchive) receiptPath(txHash string) string {
	return path.Join(a.prefix, strings.ToLower(txHash)+".json")
}

// Archive uploads r. Sessions without a transaction hash never reached the
// ledger and are rejected.
func (a *ReceiptArchive) Archive(ctx context.Context, r domain.PaymentReceipt) (string, error) {
	if r.Session.TransactionHash == "" {
		return "", fmt.Errorf("s3blob/receipts: session %s has no transaction hash", r.Session.ID)
	}
	if r.ArchivedAt.IsZero() {
		r.ArchivedAt = a.now().UTC()
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob/receipts: marshal: %w", err)
	}

	p := a.receiptPath(r.Session.TransactionHash)
	if err := a.writer.Put(ctx, p, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob/receipts: archive %s: %w", r.Session.TransactionHash, err)
	}
	return p, nil
}

// Fetch returns the archived receipt for txHash or domain.ErrNotFound.
func (a *ReceiptArchive) Fetch(ctx context.Context, txHash string) (domain.PaymentReceipt, error) {
	p := a.receiptPath(txHash)
	ok, err := a.reader.Exists(ctx, p)
	if err != nil {
		return domain.PaymentReceipt{}, fmt.Errorf("s3blob/receipts: fetch %s: %w", txHash, err)
	}
	if !ok {
		return domain.PaymentReceipt{}, fmt.Errorf("s3blob/receipts: fetch %s: %w", txHash, domain.ErrNotFound)
	}
	body, err := a.reader.Get(ctx, p)
	if err != nil {
		return domain.PaymentReceipt{}, fmt.Errorf("s3blob/receipts: fetch %s: %w", txHash, err)
	}
	defer body.Close()

	var r domain.PaymentReceipt
	if err := json.NewDecoder(body).Decode(&r); err != nil {
		return domain.PaymentReceipt{}, fmt.Errorf("s3blob/receipts: decode %s: %w", txHash, err)
	}
	return r, nil
}

// ExportRecovery writes sessions as JSON lines to a timestamped object and
// returns its path. Operators use the export to reconcile payments that
// settled without a provisioned account.
func (a *ReceiptArchive) ExportRecovery(ctx context.Context, sessions []domain.PaymentSession) (string, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	enc := json.NewEncoder(w)
	for _, s := range sessions {
		if err := enc.Encode(s); err != nil {
			return "", fmt.Errorf("s3blob/receipts: encode session %s: %w", s.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("s3blob/receipts: flush: %w", err)
	}

	p := path.Join(a.prefix, "recovery", a.now().UTC().Format("20060102T150405Z")+".jsonl")
	if err := a.writer.Put(ctx, p, io.Reader(&buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob/receipts: export %s: %w", p, err)
	}
	return p, nil
}

// RecoveryExports lists the recovery exports written so far, newest first.
func (a *ReceiptArchive) RecoveryExports(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, path.Join(a.prefix, "recovery")+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob/receipts: list exports: %w", err)
	}
	exports := make([]domain.BlobInfo, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, ".jsonl") {
			continue
		}
		info.ContentType = "application/x-ndjson"
		exports = append(exports, info)
	}
	// Export names are UTC timestamps, so they sort by time.
	slices.SortFunc(exports, func(x, y domain.BlobInfo) int { return strings.Compare(y.Path, x.Path) })
	return exports, nil
}

var _ domain.ReceiptArchive = (*ReceiptArchive)(nil)
