package main

import (
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/cli"
)

func main() {
	defer klog.Flush()
	cli.Execute()
}
