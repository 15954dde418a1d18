package axrmem_test

import (
	"fmt"

	"github.com/axrengine/axrmem"
	"github.com/axrengine/axrmem/allocator"
)

func Example() {
	a := axrmem.New(axrmem.Config{FrameAllocatorSize: 1024})
	if err := a.Setup(); err != nil {
		panic(err)
	}
	defer func() { _ = a.ShutDown() }()

	frame := a.FrameAllocator()

	_, m1, _ := frame.Allocate(16)
	_, m2, _ := frame.Allocate(32)
	fmt.Println(m1, m2, frame.Size())

	frame.Deallocate(m1)
	fmt.Println(frame.Size())

	_, _, err := frame.Allocate(2048)
	fmt.Println(allocator.ResultOf(err))

	a.ClearFrame()
	// Output:
	// 1 2 80
	// 0
	// ERROR_OUT_OF_MEMORY
}
