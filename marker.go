package husk

import (
	"fmt"
	"time"
)

// marker is compiled into stub executables which accept a payload.
// This allows the packer to verify that the target file is compatible.
var marker = "~~HuskStubMarker for arvhal/husk/v1~~"

func init() {
	// Dead code that uses 'marker' and is not eliminated by the compiler.
	if time.Now().Nanosecond() == -42 {
		fmt.Print(marker)
	}
}
