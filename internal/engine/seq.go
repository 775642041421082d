package engine

import (
	"context"
	"fmt"
)

// GenerateTicketCode returns the next code in the TK-<year>-NNNN sequence
// by counting existing codes under the year prefix. The count and the later
// insert are separate statements, so two concurrent creates can draw the
// same code; the unique index on ticket_code turns that into an insert
// error instead of a silent duplicate.
func (e Engine) GenerateTicketCode(ctx context.Context, year int) (string, error) {
	prefix := fmt.Sprintf("TK-%d-", year)
	n, err := e.Repo.CountTicketCodes(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, n+1), nil
}
