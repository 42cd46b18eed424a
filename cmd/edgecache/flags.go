package main

import (
	"github.com/lucasew/edgecache/internal/errutil"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each named flag to the viper key of the same name, so it
// can also come from EDGECACHE_<NAME> or the config file.
func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		errutil.ReportError(viper.BindPFlag(name, flags.Lookup(name)), "Failed to bind flag", "flag", name)
	}
}
