package download

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// mockFetcher — загрузчик с функцией-полем.
type mockFetcher struct {
	fetchFn func(url string) ([]byte, error)
}

func (m *mockFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	return m.fetchFn(url)
}

type passNormalizer struct{}

func (passNormalizer) Normalize(data []byte) ([]byte, error) { return data, nil }

// memStore запоминает занятые индексы.
type memStore struct {
	saved map[int]string
}

func (m *memStore) Save(_ context.Context, recordID string, index int, data []byte) (string, error) {
	if _, ok := m.saved[index]; ok {
		return "", fmt.Errorf("индекс %d уже занят", index)
	}
	m.saved[index] = string(data)
	return fmt.Sprintf("/media/%s/%d.jpg", recordID, index), nil
}

func candidates(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://cdn.example.com/%d.jpg", i)
	}
	return out
}

func newTestAllocator(fetchFn func(string) ([]byte, error)) (*Allocator, *memStore) {
	store := &memStore{saved: map[int]string{}}
	return NewAllocator(&mockFetcher{fetchFn: fetchFn}, passNormalizer{}, store, testLogger()), store
}

func TestAllocate_FailedCandidateDoesNotLeaveGap(t *testing.T) {
	// 2 существующих, нужно 3, из 4 кандидатов один падает.
	a, store := newTestAllocator(func(url string) ([]byte, error) {
		if strings.HasSuffix(url, "/1.jpg") {
			return nil, ErrValidation
		}
		return []byte(url), nil
	})

	res := a.Allocate(context.Background(), Request{
		RecordID: "rec", StartIndex: 2, Needed: 3, Candidates: candidates(4),
	})

	if res.Downloaded() != 3 {
		t.Fatalf("Downloaded = %d, ожидается 3", res.Downloaded())
	}
	for i, s := range res.Stored {
		if s.Index != 2+i {
			t.Errorf("Stored[%d].Index = %d, ожидается %d", i, s.Index, 2+i)
		}
	}
	wantAttempts := []int{0, 2, 3}
	for i, s := range res.Stored {
		if s.AttemptIndex != wantAttempts[i] {
			t.Errorf("Stored[%d].AttemptIndex = %d, ожидается %d", i, s.AttemptIndex, wantAttempts[i])
		}
	}
	if len(res.Errors) != 1 || res.Errors[0].Kind != "validation" || res.Errors[0].AttemptIndex != 1 {
		t.Errorf("Errors = %+v", res.Errors)
	}
	if len(store.saved) != 3 {
		t.Errorf("сохранено %d, ожидается 3", len(store.saved))
	}
}

func TestAllocate_IndicesUniqueUnderFailures(t *testing.T) {
	for start := 0; start < 4; start++ {
		for failEvery := 1; failEvery <= 3; failEvery++ {
			a, store := newTestAllocator(func(url string) ([]byte, error) {
				var n int
				fmt.Sscanf(url, "https://cdn.example.com/%d.jpg", &n)
				if n%failEvery == 0 {
					return nil, errors.New("network")
				}
				return []byte(url), nil
			})
			res := a.Allocate(context.Background(), Request{
				RecordID: "rec", StartIndex: start, Needed: 10, Candidates: candidates(12),
			})
			seen := map[int]bool{}
			for i, s := range res.Stored {
				if seen[s.Index] {
					t.Fatalf("start=%d fail=%d: повтор индекса %d", start, failEvery, s.Index)
				}
				seen[s.Index] = true
				if s.Index != start+i {
					t.Fatalf("start=%d fail=%d: индекс %d вне последовательности", start, failEvery, s.Index)
				}
			}
			if len(store.saved) != res.Downloaded() {
				t.Fatalf("store=%d, downloaded=%d", len(store.saved), res.Downloaded())
			}
		}
	}
}

func TestAllocate_StopsWhenNeededReached(t *testing.T) {
	var fetched []string
	a, _ := newTestAllocator(func(url string) ([]byte, error) {
		fetched = append(fetched, url)
		return []byte(url), nil
	})
	res := a.Allocate(context.Background(), Request{RecordID: "rec", Needed: 2, Candidates: candidates(5)})
	if res.Downloaded() != 2 || len(fetched) != 2 {
		t.Errorf("downloaded=%d fetched=%d, ожидается 2 и 2", res.Downloaded(), len(fetched))
	}
}

func TestAllocate_BlockedCandidateSkipped(t *testing.T) {
	var fetched int
	a, _ := newTestAllocator(func(url string) ([]byte, error) {
		fetched++
		return []byte(url), nil
	})
	res := a.Allocate(context.Background(), Request{
		RecordID:   "rec",
		Needed:     2,
		Candidates: []string{"http://169.254.169.254/x.jpg", "https://cdn.example.com/ok.jpg"},
	})
	if res.Downloaded() != 1 || fetched != 1 {
		t.Fatalf("downloaded=%d fetched=%d", res.Downloaded(), fetched)
	}
	if res.Errors[0].Kind != "blocked" {
		t.Errorf("Kind = %s, ожидается blocked", res.Errors[0].Kind)
	}
	if res.Stored[0].Index != 0 {
		t.Errorf("Index = %d, ожидается 0", res.Stored[0].Index)
	}
}

func TestAllocate_CanceledContext(t *testing.T) {
	a, _ := newTestAllocator(func(url string) ([]byte, error) { return []byte(url), nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := a.Allocate(ctx, Request{RecordID: "rec", Needed: 3, Candidates: candidates(3)})
	if res.Downloaded() != 0 {
		t.Errorf("Downloaded = %d, ожидается 0", res.Downloaded())
	}
	if len(res.Errors) != 1 || res.Errors[0].Kind != "canceled" {
		t.Errorf("Errors = %+v", res.Errors)
	}
}

func TestResult_URLs(t *testing.T) {
	r := Result{Stored: []StoredMedia{{URL: "/a"}, {URL: "/b"}}}
	if got := r.URLs(); len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Errorf("URLs = %v", got)
	}
}
