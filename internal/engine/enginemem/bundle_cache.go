package enginemem

import "github.com/syncdoc/localstore/localstore"

type bundleCache struct {
	working *state
}

func (c *bundleCache) GetBundleMetadata(_ localstore.Transaction, bundleID string) (localstore.BundleMetadata, bool, error) {
	meta, ok := c.working.bundles[bundleID]

	return meta, ok, nil
}

func (c *bundleCache) SaveBundleMetadata(_ localstore.Transaction, metadata localstore.BundleMetadata) error {
	c.working.bundles[metadata.BundleID] = metadata

	return nil
}

func (c *bundleCache) GetNamedQuery(_ localstore.Transaction, name string) (localstore.NamedQuery, bool, error) {
	query, ok := c.working.namedQueries[name]

	return query, ok, nil
}

func (c *bundleCache) SaveNamedQuery(_ localstore.Transaction, query localstore.NamedQuery) error {
	c.working.namedQueries[query.Name] = query

	return nil
}
