package uinput

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/evmacro/evmacro/types"
)

func TestEmit_FailsAfterClose(t *testing.T) {
	inj := &Injector{name: DefaultDeviceName}

	err := inj.Emit(types.InputEvent{Type: evKey, Code: 30, Value: 1})
	assert.Error(t, err)
	assert.Equal(t, types.KindInjection, types.KindOf(err))
}

func TestClose_NilDeviceIsNoOp(t *testing.T) {
	inj := &Injector{}
	assert.NoError(t, inj.Close())
}

func TestStructLayouts(t *testing.T) {
	// these must match the kernel ABI byte for byte
	assert.Equal(t, uintptr(24), unsafe.Sizeof(inputEvent{}))
	assert.Equal(t, uintptr(8), unsafe.Sizeof(inputID{}))
	assert.Equal(t, uintptr(uinputMaxNameSize+8+4+4*64*4), unsafe.Sizeof(uinputUserDev{}))
}
