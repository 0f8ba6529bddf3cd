package store

import (
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	records := []Record{
		{Address: "192.168.1.10", Status: Tracked, Timestamps: []int64{100, 200, 300}},
		{Address: "fe80::1", Status: Banned, Timestamps: []int64{500}},
		{Address: "10.0.0.0/24", Status: Whitelisted, Timestamps: []int64{50}},
	}

	decoded, skipped := Decode(Encode(records))
	if skipped != 0 {
		t.Fatalf("expected no skipped lines, got %v", skipped)
	}
	if len(decoded) != len(records) {
		t.Fatalf("expected %v records, got %v", len(records), len(decoded))
	}

	byAddr := make(map[string]Record)
	for _, r := range decoded {
		byAddr[r.Address] = r
	}
	for _, want := range records {
		got, ok := byAddr[want.Address]
		if !ok {
			t.Fatalf("record %v lost in round trip", want.Address)
		}
		if got.Status != want.Status || !reflect.DeepEqual(got.Timestamps, want.Timestamps) {
			t.Fatalf("record %v mangled: want %+v, got %+v", want.Address, want, got)
		}
	}
}

func TestEncodeKeyFormat(t *testing.T) {
	tests := []struct {
		record Record
		line   string
	}{
		{Record{"192.168.1.10", Tracked, []int64{100, 200}}, "bw_192_168_1_10=0,100,200"},
		{Record{"fe80::1", Banned, []int64{500}}, "bw_fe80xx1=1,500"},
		{Record{"10.0.0.0/24", Whitelisted, []int64{50}}, "bw_10_0_0_0m24=-1,50"},
	}

	for _, tc := range tests {
		got := strings.TrimSpace(string(Encode([]Record{tc.record})))
		if got != tc.line {
			t.Errorf("encode %v: want %q, got %q", tc.record.Address, tc.line, got)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a := []Record{
		{Address: "2.2.2.2", Status: Tracked, Timestamps: []int64{2}},
		{Address: "1.1.1.1", Status: Tracked, Timestamps: []int64{1}},
	}
	b := []Record{a[1], a[0]}

	if string(Encode(a)) != string(Encode(b)) {
		t.Fatal("encoding should be independent of record order")
	}
}

func TestDecodeSkipsMalformed(t *testing.T) {
	data := strings.Join([]string{
		"bw_1_2_3_4=0,100",
		"not a record",
		"other_1_2_3_4=0,100",
		"bw_5_6_7_8=9,100",
		"bw_9_9_9_9=0",
		"bw_8_8_8_8=0,nan",
		"",
		"bw_4_3_2_1=1,200",
	}, "\n")

	records, skipped := Decode([]byte(data))
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %v", len(records))
	}
	if skipped != 5 {
		t.Fatalf("expected 5 skipped lines, got %v", skipped)
	}
}

func TestDecodeBannedKeepsNewestOnly(t *testing.T) {
	records, skipped := Decode([]byte("bw_1_2_3_4=1,100,500\n"))
	if skipped != 0 {
		t.Fatalf("expected no skipped lines, got %v", skipped)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %v", len(records))
	}

	r := records[0]
	if r.Status != Banned {
		t.Fatalf("expected banned status, got %v", r.Status)
	}
	if !reflect.DeepEqual(r.Timestamps, []int64{500}) {
		t.Fatalf("banned record must hold only the newest ban-start, got %v", r.Timestamps)
	}
}

func TestDecodeSortsTimestamps(t *testing.T) {
	records, _ := Decode([]byte("bw_1_2_3_4=0,300,100,200,100\n"))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %v", len(records))
	}
	want := []int64{100, 200, 300}
	if !reflect.DeepEqual(records[0].Timestamps, want) {
		t.Fatalf("expected %v, got %v", want, records[0].Timestamps)
	}
}
