package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skycoin/mdp/pkg/config"
	"github.com/skycoin/mdp/pkg/util/pathutil"
)

var (
	output        string
	replace       bool
	nodeName      string
	groupAddr     string
	configLocType = pathutil.WorkingDirLoc
)

func init() {
	genConfigCmd.Flags().StringVarP(&output, "output", "o", "", "path of output config file. Uses default of 'type' flag if unspecified.")
	genConfigCmd.Flags().BoolVarP(&replace, "replace", "r", false, "whether to allow rewrite of a file that already exists.")
	genConfigCmd.Flags().StringVarP(&nodeName, "name", "n", "", "node name, derived from the random node id if unset")
	genConfigCmd.Flags().StringVarP(&groupAddr, "address", "a", "", "group address, host:port")
	genConfigCmd.Flags().VarP(&configLocType, "type", "m", fmt.Sprintf("config generation mode. Valid values: %v", pathutil.AllConfigLocationTypes()))
	rootCmd.AddCommand(genConfigCmd)
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "Generates a config file",
	PreRun: func(_ *cobra.Command, _ []string) {
		if output == "" {
			output = pathutil.Defaults().Get(configLocType)
			log.Infof("No 'output' set; using default path: %s", output)
		}
		var err error
		if output, err = filepath.Abs(output); err != nil {
			log.WithError(err).Fatalln("invalid output provided")
		}
	},
	Run: func(_ *cobra.Command, _ []string) {
		var conf *config.Config
		switch configLocType {
		case pathutil.WorkingDirLoc:
			conf = config.DefaultConfig()
		case pathutil.HomeLoc:
			conf = config.HomeConfig()
		case pathutil.LocalLoc:
			conf = config.LocalConfig()
		default:
			log.Fatalln("invalid config type:", configLocType)
		}
		if nodeName != "" {
			conf.Node.Name = nodeName
		}
		if groupAddr != "" {
			conf.Network.Addr = groupAddr
		}
		if _, err := conf.SessionConfig(); err != nil {
			log.WithError(err).Fatalln("generated an invalid config")
		}
		pathutil.WriteJSONConfig(conf, output, replace)
	},
}
