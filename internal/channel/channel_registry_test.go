package channel

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id string
}

func (f *fakeSubscriber) ID() string         { return f.id }
func (f *fakeSubscriber) Send(_ []byte) bool { return true }

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	r := NewRegistry([]string{"cs", "it"})
	sub := &fakeSubscriber{id: "a"}

	require.NoError(t, r.Join(sub, "cs"))
	require.NoError(t, r.Join(sub, "CS "))

	assert.Equal(t, 1, r.Count("cs"))
	assert.Equal(t, 0, r.Count("it"))
	assert.Equal(t, 1, r.JoinedBy(sub))
}

func TestRegistry_JoinUnknownDepartment(t *testing.T) {
	r := NewRegistry([]string{"cs"})
	err := r.Join(&fakeSubscriber{id: "a"}, "arts")
	assert.ErrorIs(t, err, ErrUnknownDepartment)
	assert.False(t, r.Known("arts"))
	assert.True(t, r.Known(" CS"))
}

func TestRegistry_LeaveRemovesFromAllDepartments(t *testing.T) {
	r := NewRegistry([]string{"cs", "it", "mech"})
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}

	require.NoError(t, r.Join(a, "cs"))
	require.NoError(t, r.Join(a, "it"))
	require.NoError(t, r.Join(b, "cs"))

	r.Leave(a)

	assert.Equal(t, 1, r.Count("cs"))
	assert.Equal(t, 0, r.Count("it"))
	assert.Equal(t, 0, r.JoinedBy(a))
	assert.Equal(t, []Subscriber{b}, r.Subscribers("cs"))

	// leaving again is harmless
	r.Leave(a)
	assert.Equal(t, 1, r.Count("cs"))
}

func TestRegistry_LeaveDepartment(t *testing.T) {
	r := NewRegistry([]string{"cs", "it"})
	a := &fakeSubscriber{id: "a"}
	require.NoError(t, r.Join(a, "cs"))
	require.NoError(t, r.Join(a, "it"))

	r.LeaveDepartment(a, "cs")

	assert.Equal(t, 0, r.Count("cs"))
	assert.Equal(t, 1, r.Count("it"))
	assert.Equal(t, 1, r.JoinedBy(a))
}

func TestRegistry_NoImplicitSubscription(t *testing.T) {
	r := NewRegistry([]string{"cs", "it"})
	a := &fakeSubscriber{id: "a"}
	require.NoError(t, r.Join(a, "cs"))
	assert.Empty(t, r.Subscribers("it"))
}

func TestRegistry_DepartmentsKeepsOrderAndDropsDuplicates(t *testing.T) {
	r := NewRegistry([]string{"extc", "IT", "it", "", "cs"})
	assert.Equal(t, []string{"extc", "it", "cs"}, r.Departments())
}

func TestRegistry_ConcurrentJoinLeaveEnumerate(t *testing.T) {
	r := NewRegistry([]string{"cs", "it"})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := &fakeSubscriber{id: fmt.Sprintf("s%d", i)}
			_ = r.Join(sub, "cs")
			_ = r.Join(sub, "it")
			_ = r.Subscribers("cs")
			r.Leave(sub)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count("cs"))
	assert.Equal(t, 0, r.Count("it"))
}
