package fault_test

import (
	"fmt"

	"gitlab.com/faultkit/faultkit/fault"
)

func ExampleApply() {
	spec := fault.Spec{
		Kind: fault.BitFlip,
		Bit:  0,
	}

	fmt.Printf("0x%x\n", fault.Apply(0xdeadbeefcafebabe, spec))

	// Output:
	// 0xdeadbeefcafebabf
}

func ExampleParseSpec() {
	spec, err := fault.ParseSpec("add4", fault.AnyBit, 0)
	if err != nil {
		panic(err)
	}

	fmt.Println(spec.Describe())
	fmt.Println(fault.Apply(10, spec))

	// Output:
	// add (+4)
	// 14
}
