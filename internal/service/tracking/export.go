package tracking

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// CSVHeader is the column layout of the export.
var CSVHeader = []string{
	"Type", "Email ID", "Contact ID", "Campaign ID", "Timestamp",
	"Resolved", "User Agent", "IP", "Original URL", "Link Text",
}

var csvReplacer = strings.NewReplacer(",", ";", "\r\n", " ", "\r", " ", "\n", " ", `"`, "'")

// ExportCSV renders the records of a campaign (or all records when
// campaignID is empty) as CSV, one row per record after the header.
func (s *Service) ExportCSV(ctx context.Context, campaignID string) ([]byte, error) {
	recs, err := s.Records(ctx, domain.RecordFilter{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCSV writes the header and one row per record. Free-text fields are
// flattened so no field ever needs quoting: commas become semicolons, line
// breaks become spaces and double quotes become single quotes.
func WriteCSV(w io.Writer, recs []domain.TrackingRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range recs {
		r := &recs[i]
		resolved := "No"
		if r.Resolved {
			resolved = "Yes"
		}
		row := []string{
			string(r.Kind),
			r.EmailID,
			r.ContactID,
			r.CampaignID,
			r.CreatedAt.UTC().Format(time.RFC3339),
			resolved,
			r.RequesterAgent,
			r.RequesterAddress,
			r.DestinationURL,
			r.LinkLabel,
		}
		for j := range row {
			row[j] = sanitizeCSVField(row[j])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func sanitizeCSVField(v string) string {
	return strings.TrimSpace(csvReplacer.Replace(v))
}
