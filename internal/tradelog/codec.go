package tradelog

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oerlikon/prep/internal/model"
)

const (
	layoutUTC    = "2006-01-02T15:04:05Z"
	layoutOffset = "2006-01-02T15:04:05-07:00"

	fieldCount = 7
)

// FormatTime renders t at second precision. UTC instants end in "Z",
// others carry their numeric offset.
func FormatTime(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format(layoutUTC)
	}
	return t.Format(layoutOffset)
}

// AppendLine appends the encoded record, including the trailing newline, to dst.
func AppendLine(dst []byte, t model.Trade) []byte {
	if t.Time.Location() == time.UTC {
		dst = t.Time.AppendFormat(dst, layoutUTC)
	} else {
		dst = t.Time.AppendFormat(dst, layoutOffset)
	}
	dst = append(dst, ',')
	dst = append(dst, t.Price.String()...)
	dst = append(dst, ',')
	dst = append(dst, t.BuyVolume.String()...)
	dst = append(dst, ',')
	dst = append(dst, t.SellVolume.String()...)
	dst = append(dst, ',')
	dst = append(dst, t.MarketVolume.String()...)
	dst = append(dst, ',')
	dst = append(dst, t.LimitVolume.String()...)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, t.TradeID, 10)
	return append(dst, '\n')
}

// EncodeLine returns the encoded record as a string, including the newline.
func EncodeLine(t model.Trade) string {
	return string(AppendLine(make([]byte, 0, 96), t))
}

// DecodeLine parses one record. A single trailing newline is accepted.
func DecodeLine(line []byte) (model.Trade, error) {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})

	var fields [fieldCount][]byte
	n := 0
	for n < fieldCount-1 {
		i := bytes.IndexByte(line, ',')
		if i < 0 {
			break
		}
		fields[n] = line[:i]
		line = line[i+1:]
		n++
	}
	if n != fieldCount-1 || bytes.IndexByte(line, ',') >= 0 {
		return model.Trade{}, fmt.Errorf("want %d fields", fieldCount)
	}
	fields[n] = line

	var t model.Trade
	ts, err := time.Parse(time.RFC3339, string(fields[0]))
	if err != nil {
		return model.Trade{}, fmt.Errorf("timestamp: %w", err)
	}
	t.Time = ts

	dst := []*decimal.Decimal{&t.Price, &t.BuyVolume, &t.SellVolume, &t.MarketVolume, &t.LimitVolume}
	names := []string{"price", "buy", "sell", "market", "limit"}
	for i, d := range dst {
		v, err := decimal.NewFromString(string(fields[i+1]))
		if err != nil {
			return model.Trade{}, fmt.Errorf("%s: %w", names[i], err)
		}
		*d = v
	}

	id, err := strconv.ParseInt(string(fields[6]), 10, 64)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade id: %w", err)
	}
	t.TradeID = id
	return t, nil
}

// timeOf extracts only the timestamp field of a record line.
func timeOf(line []byte) (time.Time, error) {
	i := bytes.IndexByte(line, ',')
	if i < 0 {
		return time.Time{}, fmt.Errorf("want %d fields", fieldCount)
	}
	ts, err := time.Parse(time.RFC3339, string(line[:i]))
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}
	return ts, nil
}
