package protocol

import (
	"strings"
)

// Document is the result of parsing one state file.
type Document struct {
	Records    []AccountRecord
	Errors     []*ProtocolError
	Skipped    int // lines with an unknown discriminator
	Incomplete int // account blocks dropped for missing required lines
	Encoding   Encoding
}

type block struct {
	rec          AccountRecord
	typeRole     Role
	legacy       bool
	hasStatus    bool
	hasConfig    bool
	hasTranslate bool
	firstLine    int
}

// complete applies the minimum line rule: TYPE+STATUS+CONFIG, plus TRANSLATE
// for slave blocks written in the current TYPE form.
func (b *block) complete() bool {
	if !b.hasStatus || !b.hasConfig {
		return false
	}
	if b.rec.Role == RoleSlave && !b.legacy && !b.hasTranslate {
		return false
	}
	return true
}

// Parse decodes raw file bytes into account records. Malformed lines are
// collected in Document.Errors and skipped. When the file holds no complete
// account yet the returned error is ErrNotReady; the document is still
// returned so callers can log its errors.
func Parse(raw []byte) (*Document, error) {
	text, enc, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	doc := &Document{Encoding: enc}

	var cur *block
	flush := func() {
		if cur == nil {
			return
		}
		if !cur.complete() {
			doc.Incomplete++
			cur = nil
			return
		}
		if cur.rec.Role != RoleMaster && len(cur.rec.Orders) > 0 {
			doc.Errors = append(doc.Errors, &ProtocolError{
				Line:   cur.firstLine,
				Text:   cur.rec.AccountID,
				Reason: "order lines outside a master block dropped",
			})
			cur.rec.Orders = nil
		}
		doc.Records = append(doc.Records, cur.rec)
		cur = nil
	}

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch l := ParseLine(line).(type) {
		case LegacyPendingLine:
			doc.Records = append(doc.Records, AccountRecord{
				AccountID:      l.AccountID,
				Platform:       l.Platform,
				Role:           RolePending,
				ReportedStatus: l.Status,
				LastSeen:       l.Timestamp,
			})
		case TypeLine:
			flush()
			cur = &block{
				rec: AccountRecord{
					AccountID: l.AccountID,
					Platform:  l.Platform,
					Role:      l.Role,
				},
				typeRole:  l.Role,
				legacy:    l.Legacy,
				firstLine: lineNo,
			}
		case StatusLine:
			if cur == nil {
				doc.Errors = append(doc.Errors, outsideBlock(lineNo, line))
				continue
			}
			cur.rec.ReportedStatus = l.Status
			cur.rec.LastSeen = l.Timestamp
			cur.hasStatus = true
		case ConfigLine:
			if cur == nil {
				doc.Errors = append(doc.Errors, outsideBlock(lineNo, line))
				continue
			}
			applyConfig(cur, l)
		case TranslateLine:
			if cur == nil {
				doc.Errors = append(doc.Errors, outsideBlock(lineNo, line))
				continue
			}
			cur.rec.Translations = l.Pairs
			cur.hasTranslate = true
		case OrderLine:
			if cur == nil {
				doc.Errors = append(doc.Errors, outsideBlock(lineNo, line))
				continue
			}
			cur.rec.Orders = append(cur.rec.Orders, l.Order)
		case Unparsed:
			if l.Err == nil {
				doc.Skipped++
				continue
			}
			l.Err.Line = lineNo
			doc.Errors = append(doc.Errors, l.Err)
		}
	}
	flush()

	if len(doc.Records) == 0 {
		return doc, ErrNotReady
	}
	return doc, nil
}

// applyConfig sets role and config from a CONFIG line. A role that differs
// from the block's TYPE role is a promotion (or a reset back to pending).
func applyConfig(b *block, l ConfigLine) {
	b.hasConfig = true
	if l.Role != b.typeRole && b.typeRole == RolePending && l.Role.Configured() {
		b.rec.Promoted = true
	}
	b.rec.Role = l.Role
	b.rec.Master = nil
	b.rec.Slave = nil
	switch l.Role {
	case RoleMaster:
		b.rec.Master = l.Master
	case RoleSlave:
		b.rec.Slave = l.Slave
	}
}

func outsideBlock(lineNo int, text string) *ProtocolError {
	return &ProtocolError{Line: lineNo, Text: text, Reason: "line outside an account block"}
}
