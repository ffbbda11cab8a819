//go:build linux && !arm64 && !amd64

package process

var nativeLayout *Layout

func getRegisters(int) (RegisterSet, error) {
	return RegisterSet{}, ErrUnsupportedArch
}

func setRegisters(int, RegisterSet) error {
	return ErrUnsupportedArch
}
