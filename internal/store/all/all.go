// Package all registers every built-in storage backend. Import it for side
// effects:
//
//	import _ "github.com/Geeker1/wazimap-ng/internal/store/all"
package all

import (
	_ "github.com/Geeker1/wazimap-ng/internal/store/memory"
	_ "github.com/Geeker1/wazimap-ng/internal/store/mysql"
	_ "github.com/Geeker1/wazimap-ng/internal/store/postgres"
	_ "github.com/Geeker1/wazimap-ng/internal/store/sqlite"
)
