package bot

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseCallback(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"

	tests := []struct {
		name    string
		data    string
		want    action
		wantErr bool
	}{
		{name: "category", data: categoryData(id, 4), want: action{kind: actionCategory, transactionID: id, index: 4}},
		{name: "shared", data: shareData(id, true), want: action{kind: actionShared, transactionID: id}},
		{name: "solo", data: shareData(id, false), want: action{kind: actionSolo, transactionID: id}},
		{name: "cancel", data: cancelData(id), want: action{kind: actionCancel, transactionID: id}},
		{name: "category without index", data: "cat_" + id, wantErr: true},
		{name: "category with bad index", data: "cat_" + id + "_x", wantErr: true},
		{name: "share without id", data: "share_yes_", wantErr: true},
		{name: "unknown", data: "noop", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCallback(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCallback(%q) error = %v, wantErr %v", tt.data, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseCallback(%q) = %+v, want %+v", tt.data, got, tt.want)
			}
		})
	}
}

func TestCallbackDataFitsTelegramLimit(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	for _, data := range []string{
		categoryData(id, len(Categories)-1),
		shareData(id, true),
		shareData(id, false),
		cancelData(id),
	} {
		if len(data) > 64 {
			t.Errorf("callback data %q is %d bytes, limit is 64", data, len(data))
		}
	}
}

func TestCategoryKeyboard(t *testing.T) {
	rows := categoryKeyboard("id")

	var buttons int
	for _, row := range rows[:len(rows)-1] {
		if len(row) > categoriesPerRow {
			t.Errorf("row has %d buttons, want at most %d", len(row), categoriesPerRow)
		}
		buttons += len(row)
	}
	if buttons != len(Categories) {
		t.Errorf("keyboard has %d category buttons, want %d", buttons, len(Categories))
	}

	last := rows[len(rows)-1]
	if len(last) != 1 || last[0].Data != cancelData("id") {
		t.Errorf("last row = %+v, want a single cancel button", last)
	}
	if rows[0][0].Text != "Investment" || rows[0][0].Data != "cat_id_0" {
		t.Errorf("first button = %+v", rows[0][0])
	}
}

func TestKeyedMutex_SerializesPerUser(t *testing.T) {
	k := newKeyedMutex()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(1)
			defer unlock()

			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside.Load())
	}
	if k.size() != 0 {
		t.Errorf("size() = %d after all unlocks, want 0", k.size())
	}
}

func TestKeyedMutex_UsersDoNotBlockEachOther(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock(1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock(2)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for user 2 blocked behind user 1")
	}
}
