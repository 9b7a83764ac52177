package runner

import (
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/version"
)

const banner = `
             __                          __
  ____  ___ / /__    ______ __________ _/ /__ ____
 / __ \/ -_) __/ |/|/ / _ '/ __/ _  / -_) _ \
/_/ /_/\__/\__/|__,__/\_,_/_/  \_,_/\__/_//_/
`

func showBanner() {
	gologger.Print().Msgf("%s\t\t%s\n", banner, version.String())
	gologger.Print().Msgf("\t\tprojectdiscovery.io\n\n")
}
