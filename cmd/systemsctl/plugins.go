package main

import (
	"github.com/g2p/systems/internal/pluginloader"
	"github.com/g2p/systems/internal/resources/aptpackage"
	"github.com/g2p/systems/internal/resources/directory"
	"github.com/g2p/systems/internal/resources/file"
	"github.com/g2p/systems/internal/resources/pgcluster"
	"github.com/g2p/systems/internal/resources/pgdatabase"
	"github.com/g2p/systems/internal/resources/pguser"
	"github.com/g2p/systems/internal/resources/railsapp"
	"github.com/g2p/systems/internal/resources/runit"
	"github.com/g2p/systems/internal/resources/svnworkingcopy"
	"github.com/g2p/systems/internal/resources/user"
	"github.com/g2p/systems/internal/transitions/command"
)

// bundledPlugins is the full set of resource/transition families this
// binary ships with, in the order pluginloader.Load applies them. GoFunc
// is deliberately absent: it has nothing to serialize and nothing a
// document could ever name.
var bundledPlugins = []pluginloader.Plugin{
	command.Register,
	directory.Register,
	file.Register,
	user.Register,
	aptpackage.Register,
	pgcluster.Register,
	pguser.Register,
	pgdatabase.Register,
	runit.Register,
	svnworkingcopy.Register,
	railsapp.Register,
}
