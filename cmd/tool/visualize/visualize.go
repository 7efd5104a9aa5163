package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/glowmesh/glowmesh/pkg/coordinator"
	"github.com/glowmesh/glowmesh/pkg/model"
)

var (
	outputPath = flag.String("o", "./fsm_visual", "output path")
)

// stubTransport satisfies model.Transport just enough to construct a
// coordinator for visualization.
type stubTransport struct{}

func (stubTransport) SelfID() model.NodeID                 { return 1 }
func (stubTransport) Membership() []model.NodeID           { return nil }
func (stubTransport) Broadcast([]byte) error               { return nil }
func (stubTransport) NodeTime() uint32                     { return 0 }
func (stubTransport) OnMembershipChanged(func())           {}
func (stubTransport) OnReceive(func(model.NodeID, []byte)) {}
func (stubTransport) Attached() bool                       { return true }
func (stubTransport) Reinitialize() error                  { return nil }

func main() {
	flag.Parse()

	c, err := coordinator.NewCoordinator(stubTransport{}, nil, nil, slog.Default())
	if err != nil {
		panic(err)
	}
	visualStr := c.Visualize()

	f, err := os.OpenFile(*outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	_, err = f.WriteString(visualStr)
	if err != nil {
		panic(err)
	}

	fmt.Println("Visualization finished")
}
