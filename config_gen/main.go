/*
Package main in the directory config_gen implements a tool to read configuration from a template,
and generate customized configuration files for each node.
The generated configuration file particularly contains the committee with every node's public key
and the node's own private key.
*/
package main

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/gitzhang10/dagbft/types"
	"github.com/spf13/viper"
	"go.dedis.ch/kyber/v3/util/key"
)

func main() {
	viperRead := viper.New()
	// for environment variables
	viperRead.SetEnvPrefix("")
	viperRead.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperRead.SetEnvKeyReplacer(replacer)
	viperRead.SetConfigName("config_template")
	viperRead.AddConfigPath("./")
	err := viperRead.ReadInConfig()
	if err != nil {
		panic(err)
	}

	// deal with cluster as a string map, from name to the address of its primary
	clusterMapInterface := viperRead.GetStringMap("cluster")
	listenMapInterface := viperRead.GetStringMap("listen_addr")
	nodeNumber := len(clusterMapInterface)
	if nodeNumber == 0 {
		panic("cluster in the config file is empty")
	}
	clusterName := make([]string, 0, nodeNumber)
	for name := range clusterMapInterface {
		clusterName = append(clusterName, name)
	}
	sort.Strings(clusterName)

	// create the kyber keys
	privKeys := make(map[string]string, nodeNumber)
	committee := make(map[string]interface{}, nodeNumber)
	for _, name := range clusterName {
		addr, ok := clusterMapInterface[name].(string)
		if !ok {
			panic("cluster in the config file cannot be decoded correctly")
		}
		pair := key.NewKeyPair(types.Suite)
		pubKey, err := pair.Public.MarshalBinary()
		if err != nil {
			panic(err)
		}
		privKey, err := pair.Private.MarshalBinary()
		if err != nil {
			panic(err)
		}
		privKeys[name] = hex.EncodeToString(privKey)
		committee[name] = map[string]interface{}{
			"stake":   1,
			"pubkey":  hex.EncodeToString(pubKey),
			"address": addr,
		}
	}

	// load simple parameter
	logLevel := viperRead.GetInt("log_level")
	gcDepth := viperRead.GetInt("gc_depth")
	channelCapacity := viperRead.GetInt("channel_capacity")
	maxPool := viperRead.GetInt("max_pool")
	epoch := viperRead.GetInt("epoch")
	metricsPort := viperRead.GetInt("metrics_port")

	// write to configure files
	for i, name := range clusterName {
		listenAddr, ok := listenMapInterface[name].(string)
		if !ok {
			panic(fmt.Sprintf("listen_addr of %s is missing", name))
		}
		viperWrite := viper.New()
		viperWrite.SetConfigFile(fmt.Sprintf("%s.yaml", name))
		viperWrite.Set("name", name)
		viperWrite.Set("epoch", epoch)
		viperWrite.Set("log_level", logLevel)
		viperWrite.Set("gc_depth", gcDepth)
		viperWrite.Set("channel_capacity", channelCapacity)
		viperWrite.Set("max_pool", maxPool)
		viperWrite.Set("store_path", "db_"+name)
		viperWrite.Set("listen_addr", listenAddr)
		if metricsPort != 0 {
			viperWrite.Set("metrics_addr", fmt.Sprintf(":%d", metricsPort+i))
		}
		viperWrite.Set("committee", committee)
		viperWrite.Set("privkey", privKeys[name])
		if err := viperWrite.WriteConfig(); err != nil {
			panic(err)
		}
	}
	fmt.Println("generated configuration for", clusterName)
}
