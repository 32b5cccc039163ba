package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/ruralpay/ledger-engine/internal/models"
	"github.com/ruralpay/ledger-engine/internal/services"
)

func renderReceipt(w io.Writer, r *models.Receipt) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Operation", "Account", "Item", "Purchase", "Amount", "New Balance", "Entry"})
	table.Append([]string{
		string(r.Operation),
		r.AccountID,
		r.ItemID,
		r.PurchaseID,
		r.Amount.StringFixed(2),
		r.NewBalance.StringFixed(2),
		strconv.FormatInt(r.EntrySeq, 10),
	})
	table.Render()
}

func renderStatement(w io.Writer, s *models.Statement) {
	fmt.Fprintf(w, "Account %s  opening %s  balance %s\n",
		s.Account.ID, s.Account.OpeningBalance.StringFixed(2), s.Account.Balance.StringFixed(2))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Seq", "Kind", "Amount", "Balance", "Purchase", "Created"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, e := range s.Entries {
		purchase := ""
		if e.RelatedPurchaseID != nil {
			purchase = *e.RelatedPurchaseID
		}
		table.Append([]string{
			strconv.FormatInt(e.Seq, 10),
			string(e.Kind),
			e.Amount.StringFixed(2),
			e.ResultingBalance.StringFixed(2),
			purchase,
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}

// renderReconciliation prints one row per account and returns how many were inconsistent.
func renderReconciliation(w io.Writer, reports []*services.AccountReport) int {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Account", "Entries", "Opening", "Ledger Sum", "Expected", "Stored", "Status"})

	bad := 0
	for _, r := range reports {
		status := "OK"
		if !r.Consistent {
			bad++
			status = "MISMATCH"
			if r.BrokenAtSeq != 0 {
				status += fmt.Sprintf(" (chain breaks at %d)", r.BrokenAtSeq)
			}
			if r.NegativeAtSeq != 0 {
				status += fmt.Sprintf(" (negative at %d)", r.NegativeAtSeq)
			}
		}
		table.Append([]string{
			r.AccountID,
			strconv.Itoa(r.Entries),
			r.OpeningBalance.StringFixed(2),
			r.LedgerSum.StringFixed(2),
			r.ExpectedBalance.StringFixed(2),
			r.StoredBalance.StringFixed(2),
			status,
		})
	}
	table.Render()
	return bad
}
