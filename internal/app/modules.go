package app

import (
	"github.com/vk/livegrid/internal/processor"
	"github.com/vk/livegrid/modules/manual"
	"github.com/vk/livegrid/modules/program"
	"github.com/vk/livegrid/modules/tail"
	"github.com/vk/livegrid/modules/template"
	"github.com/vk/livegrid/modules/webhook"
)

// coreModules are the node types every daemon instance supports out of the
// box. Additional types plug in through NewApp's variadic modules argument.
var coreModules = []processor.Module{
	&manual.Module{},
	&template.Module{},
	&program.Module{},
	&webhook.Module{},
	&tail.Module{},
}
