// Package sessionstore implements the session store (C7): directory layout
// and atomic persistence for one turn engine session, plus resume support.
// Directory layout is grounded in g3-core's paths.rs, adapted from the
// original's <workspace>/.g3/sessions/<id>/ to spec section 6's
// <cwd>/.sessions/<id>/.
package sessionstore
