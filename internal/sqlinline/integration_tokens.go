package sqlinline

// QSelectIntegrationToken returns the stored token of one provider.
const QSelectIntegrationToken = `--sql 3c2b9e6a-41d8-4f0e-9a57-6e1d0b8c2f14
select token
  from integration_tokens
 where provider = $1::text;
`

// QUpsertIntegrationToken stores or replaces a provider token.
const QUpsertIntegrationToken = `--sql 9f41c7d2-08ab-4e63-b5d1-2a7c6e90f3b8
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update
   set token      = excluded.token,
       properties = excluded.properties,
       updated_at = now();
`
