package parsers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// decodeJSONRecords reads either a top-level JSON array or a stream of JSON
// objects (JSON Lines). Each element is decoded on its own, so one bad record
// is counted and skipped without losing the rest. Syntax errors that break
// the framing of the document abort the file.
func decodeJSONRecords[T any](ctx context.Context, r io.Reader, source string, stats *ParseStats, log logger.Logger) ([]*T, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return []*T{}, nil
	}
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "document", err)
	}

	dec := json.NewDecoder(br)
	inArray := first == '['
	if inArray {
		if _, err := dec.Token(); err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "document", err)
		}
	}

	records := []*T{}
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if inArray && !dec.More() {
			break
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF && !inArray {
				break
			}
			return records, errors.ParseError(errors.CodeInvalidFormat, source, index, "document", err).
				WithSuggestion("Check that the file is a JSON array or one JSON object per line")
		}
		stats.RecordsParsed++

		var record T
		if err := json.Unmarshal(raw, &record); err != nil {
			log.WithError(err).WithFields(logger.Fields{"file": source, "record": index}).Debug("Skipping undecodable record")
			stats.AddError(errors.ParseError(errors.CodeInvalidData, source, index, "record", err))
			continue
		}
		records = append(records, &record)
	}

	if inArray {
		if _, err := dec.Token(); err != nil {
			return records, errors.ParseError(errors.CodeInvalidFormat, source, stats.RecordsParsed, "document", err)
		}
	}
	stats.TotalLines = stats.RecordsParsed
	return records, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case 0xEF: // UTF-8 byte order mark
			if _, err := br.Discard(2); err != nil {
				return 0, fmt.Errorf("truncated byte order mark: %w", err)
			}
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
