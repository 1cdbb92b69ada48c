package setassoc

import (
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"

	"github.com/sarchlab/cachearray/mem"
)

// mockReplPolicy is a hand-written stand-in for mockgen output: it
// forwards every call through gomock.Controller so expectations set
// with EXPECT() are checked the same way a generated mock's would be.
type mockReplPolicy struct {
	ctrl     *gomock.Controller
	recorder *mockReplPolicyRecorder
}

type mockReplPolicyRecorder struct {
	mock *mockReplPolicy
}

func newMockReplPolicy(ctrl *gomock.Controller) *mockReplPolicy {
	m := &mockReplPolicy{ctrl: ctrl}
	m.recorder = &mockReplPolicyRecorder{m}

	return m
}

func (m *mockReplPolicy) EXPECT() *mockReplPolicyRecorder {
	return m.recorder
}

func (m *mockReplPolicy) Update(lineID uint32, req *mem.Req) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Update", lineID, req)
}

func (mr *mockReplPolicyRecorder) Update(lineID, req any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(
		mr.mock, "Update", reflect.TypeOf((*mockReplPolicy)(nil).Update), lineID, req)
}

func (m *mockReplPolicy) Replaced(lineID uint32) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Replaced", lineID)
}

func (mr *mockReplPolicyRecorder) Replaced(lineID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(
		mr.mock, "Replaced", reflect.TypeOf((*mockReplPolicy)(nil).Replaced), lineID)
}

func (m *mockReplPolicy) RankCands(req *mem.Req, cands []uint32) uint32 {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RankCands", req, cands)
	return ret[0].(uint32)
}

func (mr *mockReplPolicyRecorder) RankCands(req, cands any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(
		mr.mock, "RankCands", reflect.TypeOf((*mockReplPolicy)(nil).RankCands), req, cands)
}
