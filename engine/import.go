package engine

import (
	"context"

	"xdao.co/kel/event"
	"xdao.co/kel/storage"
	"xdao.co/kel/storage/bundle"
)

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Admitted  int
	Duplicate int
	Pending   int
	Escrowed  int
	Receipts  int
	Rejected  []error
}

// Import proposes every event of c through normal admission, then submits
// its receipts. Rejections are collected rather than aborting the import.
func (e *Engine) Import(ctx context.Context, c bundle.Contents) (ImportResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Import")
	defer span.End()

	var out ImportResult
	for _, rec := range c.Records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := e.Propose(ctx, Proposal{
			AID:           rec.Prefix,
			Raw:           rec.Raw,
			Signatures:    rec.Signatures,
			DelegatorSeal: rec.DelegatorSeal,
		})
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			continue
		}
		switch res.Status {
		case Duplicate:
			out.Duplicate++
		case PendingDelegatorApproval:
			out.Pending++
		case Escrowed:
			out.Escrowed++
		default:
			out.Admitted++
		}
	}
	for _, r := range c.Receipts {
		res, err := e.SubmitWitnessReceipt(ctx, r)
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			continue
		}
		if res.Added {
			out.Receipts++
		}
	}
	logger.Infof("imported %d events, %d receipts, %d rejected", out.Admitted, out.Receipts, len(out.Rejected))
	return out, nil
}

// Source exposes admitted logs and their counted receipts to bundle.Export.
func (e *Engine) Source() bundle.Source { return exportSource{e} }

type exportSource struct{ e *Engine }

func (s exportSource) Events(ctx context.Context, prefix string) ([]storage.Record, error) {
	return s.e.Events(ctx, prefix)
}

func (s exportSource) Receipts(ctx context.Context, digest string) ([]event.Receipt, error) {
	return s.e.receipts.Receipts(digest), nil
}
