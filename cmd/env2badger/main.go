package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/betbot/botfleet/pkg/secretstore"
	"github.com/joho/godotenv"
)

// env2badger 把 .env 中的密钥（BOT_PASSWORD、INTERPRETER_API_KEY 等）导入加密的 badger 密钥库，
// fleet 服务通过 SECRETSTORE_PATH/SECRETSTORE_KEY 读取。
func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("badger", getenv("SECRETSTORE_PATH", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("SECRETSTORE_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		only      = flag.String("only", "", "comma separated keys to import (default: all)")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set SECRETSTORE_KEY or pass -secret-key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}
	kv = filterKeys(kv, *only)

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ss.SetString(secretstore.EnvPrefix+k, kv[k]); err != nil {
			fatal(err)
		}
	}

	fmt.Fprintf(os.Stderr, "已导入 %d 项到 badger：%s（%s）\n", len(keys), *dbPath, strings.Join(keys, ", "))
}

func filterKeys(kv map[string]string, only string) map[string]string {
	if strings.TrimSpace(only) == "" {
		return kv
	}
	out := map[string]string{}
	for _, k := range strings.Split(only, ",") {
		k = strings.TrimSpace(k)
		if v, ok := kv[k]; ok {
			out[k] = v
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
