// Command cachesim replays a memory-access trace against one of the
// cache-array organizations and reports the resulting statistics.
package main

import "github.com/sarchlab/cachearray/cmd/cachesim/cmd"

func main() {
	cmd.Execute()
}
