package client

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/timezone"
)

type decodeState int

const (
	stateIdle decodeState = iota
	stateInRecord
	stateInField
)

const limeRecord = "Mobile"

// optedInDecoder walks <Mobiles><Mobile><MobileNumber/>...</Mobile></Mobiles>
// token by token. Only the current record is ever held in memory.
type optedInDecoder struct {
	dec   *xml.Decoder
	state decodeState

	field  string
	depth  int
	text   strings.Builder
	fields map[string]string
	broken bool
}

func newOptedInDecoder(r io.Reader) *optedInDecoder {
	return &optedInDecoder{
		dec:    xml.NewDecoder(r),
		fields: make(map[string]string, 5),
	}
}

func (d *optedInDecoder) decode(fn ContactFunc) (FetchStats, error) {
	var stats FetchStats
	for {
		tok, err := d.dec.Token()
		if errors.Is(err, io.EOF) {
			if d.state != stateIdle {
				return stats, fmt.Errorf("lime optedInNumbers: %w", io.ErrUnexpectedEOF)
			}
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("lime optedInNumbers: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			d.start(t.Name.Local)
		case xml.CharData:
			if d.state == stateInField && d.depth == 0 {
				d.text.Write(t)
			}
		case xml.EndElement:
			done := d.end(t.Name.Local)
			if !done {
				continue
			}
			stats.Records++
			c, err := d.contact()
			if err != nil {
				stats.Skipped++
				continue
			}
			if err := fn(c); err != nil {
				return stats, err
			}
		}
	}
}

func (d *optedInDecoder) start(name string) {
	switch d.state {
	case stateIdle:
		if name == limeRecord {
			d.state = stateInRecord
			d.broken = false
			clear(d.fields)
		}
	case stateInRecord:
		d.state = stateInField
		d.field = name
		d.depth = 0
		d.text.Reset()
	case stateInField:
		// fields are flat; nested markup makes the record unusable
		d.depth++
		d.broken = true
	}
}

// end reports whether a complete record was closed.
func (d *optedInDecoder) end(name string) bool {
	switch d.state {
	case stateInField:
		if d.depth > 0 {
			d.depth--
			return false
		}
		d.fields[d.field] = strings.TrimSpace(d.text.String())
		d.state = stateInRecord
	case stateInRecord:
		if name == limeRecord {
			d.state = stateIdle
			return true
		}
	}
	return false
}

func (d *optedInDecoder) contact() (model.Contact, error) {
	if d.broken {
		return model.Contact{}, ErrMalformedRecord
	}
	phone := timezone.Digits(d.fields["MobileNumber"])
	if len(phone) < 10 {
		return model.Contact{}, fmt.Errorf("%w: mobile %q", ErrMalformedRecord, d.fields["MobileNumber"])
	}
	return model.Contact{
		Phone:     phone,
		FirstName: d.fields["FirstName"],
		LastName:  d.fields["LastName"],
		Email:     d.fields["Email"],
		Keyword:   d.fields["Keyword"],
	}, nil
}
