package localregistry

import (
	"context"
	"testing"
	"time"

	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

var svcKey = model.ServiceKey{Namespace: "A", Name: "S"}

func snapshot(revision string, instances ...model.Instance) *model.ServiceData {
	return &model.ServiceData{Key: svcKey, Kind: model.DataKindInstances, Revision: revision, FetchTime: time.Now(), Instances: instances}
}

func TestGetBlocksUntilFirstPublish(t *testing.T) {
	r := NewWithPlugins(nil, plugin.New())

	done := make(chan struct{})
	var gotCode int
	go func() {
		_, code := r.Get(context.Background(), svcKey, model.DataKindInstances, time.Second)
		gotCode = int(code)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Publish(svcKey, model.DataKindInstances, snapshot("1"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get never returned after Publish")
	}
	if gotCode != 0 {
		t.Fatalf("expected Ok, got code %d", gotCode)
	}
}

func TestGetTimesOutWithoutPublish(t *testing.T) {
	r := NewWithPlugins(nil, plugin.New())
	_, code := r.Get(context.Background(), svcKey, model.DataKindInstances, 30*time.Millisecond)
	if code == 0 {
		t.Fatal("expected a non-Ok code when no snapshot ever arrives")
	}
}

func TestReadersSeeMonotoneRevisions(t *testing.T) {
	r := NewWithPlugins(nil, plugin.New())
	r.Publish(svcKey, model.DataKindInstances, snapshot("1"))

	snap, code := r.Get(context.Background(), svcKey, model.DataKindInstances, time.Second)
	if code != 0 || snap.Revision != "1" {
		t.Fatalf("expected revision 1, got %+v code=%v", snap, code)
	}

	r.Publish(svcKey, model.DataKindInstances, snapshot("2"))
	snap2, code := r.Get(context.Background(), svcKey, model.DataKindInstances, time.Second)
	if code != 0 || snap2.Revision != "2" {
		t.Fatalf("expected revision 2, got %+v code=%v", snap2, code)
	}
}

// TestS5PreUpdateObserversSeeOldAndNewBeforePublish matches spec scenario
// S5: two observers (front and back) both see the (old, new) instance
// lists, ordered front-first, while readers still see the old snapshot.
func TestS5PreUpdateObserversSeeOldAndNewBeforePublish(t *testing.T) {
	reg := plugin.New()
	var r *Registry
	var order []string
	var sizes [][2]int
	var visible []string
	reg.RegisterInstancePreUpdateHandler(func(old, new []any) {
		order = append(order, "front")
		sizes = append(sizes, [2]int{len(old), len(new)})
		if cur := r.entryFor(cacheKey{svc: svcKey, kind: model.DataKindInstances}).snapshot.Load(); cur != nil {
			visible = append(visible, cur.Revision)
		}
	}, true)
	reg.RegisterInstancePreUpdateHandler(func(old, new []any) {
		order = append(order, "back")
		sizes = append(sizes, [2]int{len(old), len(new)})
	}, false)

	r = NewWithPlugins(nil, reg)
	r.Publish(svcKey, model.DataKindInstances, snapshot("1", model.Instance{ID: "i1"}))
	r.Publish(svcKey, model.DataKindInstances, snapshot("2", model.Instance{ID: "i1"}, model.Instance{ID: "i2"}))

	if len(order) != 4 {
		t.Fatalf("expected 4 observer invocations across 2 publishes, got %d", len(order))
	}
	if order[0] != "front" || order[1] != "back" || order[2] != "front" || order[3] != "back" {
		t.Fatalf("expected front-then-back ordering on each publish, got %v", order)
	}
	wantSizes := [][2]int{{0, 1}, {0, 1}, {1, 2}, {1, 2}}
	for i, want := range wantSizes {
		if sizes[i] != want {
			t.Fatalf("expected (old, new) list sizes %v, got %v", wantSizes, sizes)
		}
	}
	if len(visible) != 1 || visible[0] != "1" {
		t.Fatalf("expected readers to still see revision 1 while observers ran for revision 2, got %v", visible)
	}
}

func TestStaleRevisionPublishIsIgnored(t *testing.T) {
	r := NewWithPlugins(nil, plugin.New())
	r.Publish(svcKey, model.DataKindInstances, snapshot("2"))
	r.Publish(svcKey, model.DataKindInstances, snapshot("2"))

	snap, code := r.Get(context.Background(), svcKey, model.DataKindInstances, time.Second)
	if code != 0 || snap.Revision != "2" {
		t.Fatalf("expected revision to stay at 2, got %+v", snap)
	}
}
